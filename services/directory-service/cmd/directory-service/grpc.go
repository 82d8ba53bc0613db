package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/grpcx"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/grpcserver"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/storage"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, repo *storage.Repository) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer(logger)
	grpcserver.Register(srv, repo)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
