// Package scheduling sources doctor templates and fees from directory-service over gRPC, falling
// back to the shared database when the RPC is unavailable.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/directoryrpc"
	"github.com/md-rashed-zaman/upachar/libs/grpcx"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

type Directory interface {
	DoctorTemplate(ctx context.Context, doctorID int64) (directoryrpc.Template, error)
	EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error)
}

// Local answers the same questions from the booking database.
type Local interface {
	DoctorTemplate(ctx context.Context, doctorID int64) (availability.Template, error)
	EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error)
}

type Provider struct {
	remote  Directory
	local   Local
	logger  *slog.Logger
	timeout time.Duration
}

func NewProvider(remote Directory, local Local, logger *slog.Logger) *Provider {
	return &Provider{remote: remote, local: local, logger: logger, timeout: 3 * time.Second}
}

// Dial connects to directory-service at addr. The returned close func releases the connection.
func Dial(addr string, local Local, logger *slog.Logger) (*Provider, func() error, error) {
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("directory grpc provider enabled", "addr", addr)
	return NewProvider(directoryrpc.NewClient(conn), local, logger), conn.Close, nil
}

func (p *Provider) DoctorTemplate(ctx context.Context, doctorID int64) (availability.Template, error) {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	remote, err := p.remote.DoctorTemplate(rctx, doctorID)
	switch {
	case errors.Is(err, directoryrpc.ErrNotFound):
		return availability.Template{}, storage.ErrNotFound
	case err != nil:
		p.logger.Warn("directory rpc failed, reading template locally", "doctor_id", doctorID, "err", err)
		return p.local.DoctorTemplate(ctx, doctorID)
	}
	return p.convert(remote), nil
}

func (p *Provider) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fee, err := p.remote.EffectiveFee(rctx, doctorID, hospitalID)
	switch {
	case errors.Is(err, directoryrpc.ErrNotFound):
		return "", storage.ErrNotFound
	case err != nil:
		p.logger.Warn("directory rpc failed, reading fee locally", "doctor_id", doctorID, "hospital_id", hospitalID, "err", err)
		return p.local.EffectiveFee(ctx, doctorID, hospitalID)
	}
	return fee, nil
}

func (p *Provider) convert(remote directoryrpc.Template) availability.Template {
	tpl := availability.Template{Slots: make([]availability.Slot, 0, len(remote.Slots))}
	for _, name := range remote.Days {
		day, err := availability.ParseWeekday(name)
		if err != nil {
			p.logger.Warn("ignoring unknown day label", "doctor_id", remote.DoctorID, "day", name)
			continue
		}
		tpl.Days = append(tpl.Days, day)
	}
	for _, s := range remote.Slots {
		tpl.Slots = append(tpl.Slots, availability.Slot{ID: s.ID, Time: s.Time})
	}
	return tpl
}
