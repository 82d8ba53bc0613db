// Package directoryrpc is the gRPC contract between directory-service, which owns doctors and
// their weekly schedules, and booking-service. Messages travel as google.protobuf.Struct so the
// contract needs no generated code.
package directoryrpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "upachar.directory.v1.Directory"

const (
	methodDoctorTemplate = "/" + ServiceName + "/DoctorTemplate"
	methodEffectiveFee   = "/" + ServiceName + "/EffectiveFee"
)

var ErrNotFound = errors.New("directoryrpc: not found")

type Slot struct {
	ID   int64
	Time string // HH:MM:SS
}

// Template is a doctor's recurring weekly availability.
type Template struct {
	DoctorID int64
	Days     []string // weekday names, e.g. "Monday"
	Slots    []Slot
}

// Service is implemented by directory-service. Implementations return ErrNotFound for unknown
// doctors.
type Service interface {
	DoctorTemplate(ctx context.Context, doctorID int64) (Template, error)
	EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error)
}

func Register(s grpc.ServiceRegistrar, svc Service) {
	s.RegisterService(&serviceDesc, svc)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DoctorTemplate", Handler: doctorTemplateHandler},
		{MethodName: "EffectiveFee", Handler: effectiveFeeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "directory.proto",
}

func doctorTemplateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		doctorID := int64(req.(*structpb.Struct).GetFields()["doctor_id"].GetNumberValue())
		tpl, err := srv.(Service).DoctorTemplate(ctx, doctorID)
		if err != nil {
			return nil, toStatus(err)
		}
		return encodeTemplate(tpl)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDoctorTemplate}, call)
}

func effectiveFeeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		fields := req.(*structpb.Struct).GetFields()
		fee, err := srv.(Service).EffectiveFee(ctx,
			int64(fields["doctor_id"].GetNumberValue()),
			int64(fields["hospital_id"].GetNumberValue()))
		if err != nil {
			return nil, toStatus(err)
		}
		return structpb.NewStruct(map[string]any{"fee": fee})
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodEffectiveFee}, call)
}

func toStatus(err error) error {
	if errors.Is(err, ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func encodeTemplate(tpl Template) (*structpb.Struct, error) {
	days := make([]any, 0, len(tpl.Days))
	for _, d := range tpl.Days {
		days = append(days, d)
	}
	slots := make([]any, 0, len(tpl.Slots))
	for _, s := range tpl.Slots {
		slots = append(slots, map[string]any{"id": float64(s.ID), "time": s.Time})
	}
	return structpb.NewStruct(map[string]any{
		"doctor_id": float64(tpl.DoctorID),
		"days":      days,
		"slots":     slots,
	})
}

func decodeTemplate(s *structpb.Struct) Template {
	fields := s.GetFields()
	tpl := Template{DoctorID: int64(fields["doctor_id"].GetNumberValue())}
	for _, v := range fields["days"].GetListValue().GetValues() {
		tpl.Days = append(tpl.Days, v.GetStringValue())
	}
	for _, v := range fields["slots"].GetListValue().GetValues() {
		slot := v.GetStructValue().GetFields()
		tpl.Slots = append(tpl.Slots, Slot{
			ID:   int64(slot["id"].GetNumberValue()),
			Time: slot["time"].GetStringValue(),
		})
	}
	return tpl
}

// Client calls a remote Directory service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) DoctorTemplate(ctx context.Context, doctorID int64) (Template, error) {
	in, err := structpb.NewStruct(map[string]any{"doctor_id": float64(doctorID)})
	if err != nil {
		return Template{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodDoctorTemplate, in, out); err != nil {
		return Template{}, fromStatus(err)
	}
	return decodeTemplate(out), nil
}

func (c *Client) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	in, err := structpb.NewStruct(map[string]any{
		"doctor_id":   float64(doctorID),
		"hospital_id": float64(hospitalID),
	})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodEffectiveFee, in, out); err != nil {
		return "", fromStatus(err)
	}
	return out.GetFields()["fee"].GetStringValue(), nil
}

func fromStatus(err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}
