package grpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/polysync/rnr/internal/api/auth"
	"github.com/polysync/rnr/internal/api/validation"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/session"
)

// ControlService implements ControlServer on top of a session controller.
// Every mutating call answers with the resulting status.
type ControlService struct {
	controller *session.Controller
	registry   *msgtype.Registry
	log        zerolog.Logger
}

// NewControlService creates a control service
func NewControlService(controller *session.Controller, registry *msgtype.Registry) *ControlService {
	if registry == nil {
		registry = msgtype.DefaultRegistry()
	}
	return &ControlService{
		controller: controller,
		registry:   registry,
		log:        logger.WithComponent("grpc.control"),
	}
}

// changed logs an applied control change with the caller that made it
func (s *ControlService) changed(ctx context.Context, op string) (*structpb.Struct, error) {
	st := s.controller.Status()
	s.log.Info().
		Str("op", op).
		Str("by", auth.Holder(ctx)).
		Stringer("state", st.State).
		Msg("Control change applied")
	return EncodeStatus(st, s.registry)
}

// SetMode handles {mode, session_id}
func (s *ControlService) SetMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields{req}
	mode, err := session.ParseMode(f.str(FieldMode))
	if err != nil {
		return nil, rnrerr.WithOp("set_mode", err)
	}

	id, err := validation.ParseSessionID(FieldSessionID, f.str(FieldSessionID))
	if err != nil {
		return nil, rnrerr.WithOp("set_mode", err)
	}

	if err := s.controller.SetMode(ctx, mode, id); err != nil {
		return nil, err
	}
	return s.changed(ctx, "set_mode")
}

// SetState handles {enabled}
func (s *ControlService) SetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.controller.SetState(ctx, fields{req}.boolean(FieldEnabled)); err != nil {
		return nil, err
	}
	return s.changed(ctx, "set_state")
}

// SetFilePath handles {path}
func (s *ControlService) SetFilePath(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.controller.SetFilePath(ctx, fields{req}.str(FieldPath)); err != nil {
		return nil, err
	}
	return s.changed(ctx, "set_file_path")
}

// SetTypeFilters handles {include, exclude}; entries are type names or tags
func (s *ControlService) SetTypeFilters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields{req}
	include, err := f.types(s.registry, FieldInclude)
	if err != nil {
		return nil, rnrerr.WithOp("set_type_filters", err)
	}
	exclude, err := f.types(s.registry, FieldExclude)
	if err != nil {
		return nil, rnrerr.WithOp("set_type_filters", err)
	}

	if err := s.controller.SetTypeFilters(ctx, include, exclude); err != nil {
		return nil, err
	}
	return s.changed(ctx, "set_type_filters")
}

// SetStartTime handles {micros, absolute}
func (s *ControlService) SetStartTime(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields{req}
	micros, err := f.micros(FieldMicros)
	if err != nil {
		return nil, rnrerr.WithOp("set_start_time", err)
	}
	if err := s.controller.SetStartTime(ctx, micros, f.boolean(FieldAbsolute)); err != nil {
		return nil, err
	}
	return s.changed(ctx, "set_start_time")
}

// GetStatus returns the controller snapshot
func (s *ControlService) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.status()
}

func (s *ControlService) status() (*structpb.Struct, error) {
	return EncodeStatus(s.controller.Status(), s.registry)
}
