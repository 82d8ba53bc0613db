package grpcserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/md-rashed-zaman/upachar/libs/directoryrpc"
	"github.com/md-rashed-zaman/upachar/libs/grpcx"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/storage"
)

type fakeStore struct{}

func (fakeStore) DoctorTemplate(_ context.Context, doctorID int64) (directoryrpc.Template, error) {
	if doctorID != 7 {
		return directoryrpc.Template{}, storage.ErrNotFound
	}
	return directoryrpc.Template{
		DoctorID: 7,
		Days:     []string{"Monday", "Friday"},
		Slots:    []directoryrpc.Slot{{ID: 1, Time: "10:00:00"}},
	}, nil
}

func (fakeStore) EffectiveFee(_ context.Context, doctorID, hospitalID int64) (string, error) {
	switch {
	case doctorID == 7 && hospitalID == 3:
		return "800.00", nil
	case doctorID == 7:
		return "500.00", nil
	case doctorID == 13:
		return "", errors.New("connection reset")
	}
	return "", storage.ErrNotFound
}

func dial(t *testing.T) *directoryrpc.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpcx.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	Register(srv, fakeStore{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return directoryrpc.NewClient(cc)
}

func TestDoctorTemplateOverRPC(t *testing.T) {
	client := dial(t)

	tpl, err := client.DoctorTemplate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday", "Friday"}, tpl.Days)
	assert.Equal(t, []directoryrpc.Slot{{ID: 1, Time: "10:00:00"}}, tpl.Slots)

	_, err = client.DoctorTemplate(context.Background(), 99)
	assert.ErrorIs(t, err, directoryrpc.ErrNotFound)
}

func TestEffectiveFeeOverRPC(t *testing.T) {
	client := dial(t)

	fee, err := client.EffectiveFee(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, "800.00", fee)

	fee, err = client.EffectiveFee(context.Background(), 7, 4)
	require.NoError(t, err)
	assert.Equal(t, "500.00", fee)

	_, err = client.EffectiveFee(context.Background(), 99, 3)
	assert.ErrorIs(t, err, directoryrpc.ErrNotFound)

	_, err = client.EffectiveFee(context.Background(), 13, 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, directoryrpc.ErrNotFound)
}
