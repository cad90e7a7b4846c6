package service

import (
	"context"
	"errors"

	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/platform/sentinel"
)

// wrapStoreErr translates store sentinels into domain errors. Errors that
// already carry a domain code pass through unchanged.
func wrapStoreErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, entity+" was modified concurrently")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation cancelled")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+entity)
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
