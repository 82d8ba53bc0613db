// Package grpcserver exposes doctor templates and fees to booking-service over the Directory RPC.
package grpcserver

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/upachar/libs/directoryrpc"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/storage"
	"google.golang.org/grpc"
)

// Store is the part of the repository the RPC reads.
type Store interface {
	DoctorTemplate(ctx context.Context, doctorID int64) (directoryrpc.Template, error)
	EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error)
}

type server struct {
	store Store
}

func Register(grpcServer grpc.ServiceRegistrar, store Store) {
	directoryrpc.Register(grpcServer, &server{store: store})
}

func (s *server) DoctorTemplate(ctx context.Context, doctorID int64) (directoryrpc.Template, error) {
	tpl, err := s.store.DoctorTemplate(ctx, doctorID)
	return tpl, translate(err)
}

func (s *server) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	fee, err := s.store.EffectiveFee(ctx, doctorID, hospitalID)
	return fee, translate(err)
}

func translate(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return directoryrpc.ErrNotFound
	}
	return err
}
