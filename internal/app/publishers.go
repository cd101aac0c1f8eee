package app

import (
	"context"
	"errors"

	"github.com/swansong314/matlab-proxy/internal/domain"
)

// Publishers fans a view out to several publishers. Every publisher is called
// even when an earlier one fails.
type Publishers []domain.ViewPublisher

var _ domain.ViewPublisher = Publishers(nil)

func (p Publishers) PublishView(ctx context.Context, view domain.View) error {
	var errs []error
	for _, pub := range p {
		if err := pub.PublishView(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
