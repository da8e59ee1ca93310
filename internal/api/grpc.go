package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/session"
)

const hostControlService = "livequiz.v1.HostControl"

// HostControlServer lets trusted back-office callers drive a session. Requests and
// responses are plain structs so callers need no generated stubs.
type HostControlServer interface {
	StartGame(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Advance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reveal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Finish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var hostControlDesc = grpc.ServiceDesc{
	ServiceName: hostControlService,
	HandlerType: (*HostControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartGame", HostControlServer.StartGame),
		unary("Advance", HostControlServer.Advance),
		unary("Reveal", HostControlServer.Reveal),
		unary("Finish", HostControlServer.Finish),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "livequiz/v1/host_control.proto",
}

func registerHostControl(s grpc.ServiceRegistrar, srv HostControlServer) {
	s.RegisterService(&hostControlDesc, srv)
}

func unary(method string, call func(HostControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}

			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HostControlServer), ctx, req.(*structpb.Struct))
			}

			if interceptor == nil {
				return h(ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + hostControlService + "/" + method}
			return interceptor(ctx, in, info, h)
		},
	}
}

type hostControl struct {
	qss *session.Service
}

func (h *hostControl) StartGame(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	hr, err := hostRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	sr := session.StartGameRequest{Pin: hr.Pin, HostRef: hr.HostRef}
	if v, ok := req.GetFields()["count"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return nil, errors.InvalidArgument("count must be a number")
		}
		n := int(v.GetNumberValue())
		sr.Desired = &n
	}

	resp, err := h.qss.StartGame(ctx, sr)
	if err != nil {
		return nil, err
	}

	return reply(map[string]any{
		"pin":            resp.Session.Pin,
		"state":          string(resp.Session.State),
		"question_count": resp.QuestionCount,
		"total_in_exam":  resp.TotalInExam,
	})
}

func (h *hostControl) Advance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	hr, err := hostRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := h.qss.Advance(ctx, hr)
	if err != nil {
		return nil, err
	}

	return reply(map[string]any{
		"pin":      resp.Session.Pin,
		"state":    string(resp.Session.State),
		"finished": resp.Finished,
		"index":    resp.Index,
		"total":    resp.Total,
	})
}

func (h *hostControl) Reveal(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	hr, err := hostRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := h.qss.Reveal(ctx, hr)
	if err != nil {
		return nil, err
	}

	return reply(map[string]any{
		"pin":         resp.Session.Pin,
		"state":       string(resp.Session.State),
		"question_id": resp.QuestionID,
	})
}

func (h *hostControl) Finish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	hr, err := hostRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	ss, err := h.qss.Finish(ctx, hr)
	if err != nil {
		return nil, err
	}

	return reply(map[string]any{"pin": ss.Pin, "state": string(ss.State)})
}

func hostRequest(ctx context.Context, req *structpb.Struct) (session.HostRequest, error) {
	ref, err := hostRefFromContext(ctx)
	if err != nil {
		return session.HostRequest{}, err
	}

	pin := req.GetFields()["pin"].GetStringValue()
	if pin == "" {
		return session.HostRequest{}, errors.InvalidArgument("pin is required")
	}

	return session.HostRequest{Pin: pin, HostRef: ref}, nil
}

func reply(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Internal(err)
	}

	return s, nil
}
