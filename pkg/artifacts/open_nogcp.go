//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

func openGCS(context.Context, string, string) (Store, error) {
	return nil, errors.New("artifacts: gcs support not built in (use -tags gcp)")
}
