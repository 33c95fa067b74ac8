// Package flight serves filtered dataset rows over Apache Arrow Flight.
package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/TFMV/findash"
	"github.com/TFMV/findash/auth"
	"github.com/TFMV/findash/db"
	"github.com/TFMV/findash/loader"
	"github.com/TFMV/findash/normalize"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UsernameKey is the gRPC metadata key carrying the caller's name.
const UsernameKey = "username"

// ---------------------------------------------------------------------
// Tickets
// ---------------------------------------------------------------------

// Ticket selects the rows streamed by DoGet. Unset bounds fall back to the
// dataset's default filter; nil Segments selects every segment while an
// empty, non-nil slice selects none.
type Ticket struct {
	Source   string   `json:"source,omitempty"`
	AgeMin   *float64 `json:"age_min,omitempty"`
	AgeMax   *float64 `json:"age_max,omitempty"`
	Segments []string `json:"segments"`
}

func encodeTicket(t Ticket) (*flight.Ticket, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket: %w", err)
	}
	return &flight.Ticket{Ticket: data}, nil
}

func decodeTicket(data []byte) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, err
	}
	for _, b := range []*float64{t.AgeMin, t.AgeMax} {
		if b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0)) {
			return Ticket{}, errors.New("age bounds must be finite")
		}
	}
	return t, nil
}

func (t Ticket) selection() findash.Selection {
	return findash.Selection{AgeMin: t.AgeMin, AgeMax: t.AgeMax, Segments: t.Segments}
}

// ---------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// DefaultSource is used by tickets without a source.
	DefaultSource string
	// Sources lists the other sources a ticket may name. Tickets naming
	// anything outside DefaultSource and Sources are denied.
	Sources []string
	// Roles, when set, requires callers to hold auth.RoleReader.
	Roles  auth.RoleManager
	Logger *zap.Logger
}

// Service implements DoGet over datasets cached in a db.DB.
type Service struct {
	flight.BaseFlightServer
	db            *db.DB
	roles         auth.RoleManager
	defaultSource string
	allowed       map[string]bool
	logger        *zap.Logger
}

func NewService(database *db.DB, opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(opts.Sources)+1)
	for _, src := range append([]string{opts.DefaultSource}, opts.Sources...) {
		if src != "" {
			allowed[sourceKey(src)] = true
		}
	}
	return &Service{
		db:            database,
		roles:         opts.Roles,
		defaultSource: opts.DefaultSource,
		allowed:       allowed,
		logger:        logger,
	}
}

// sourceKey names a source for allowlist lookups. Local paths compare by
// their cleaned absolute form.
func sourceKey(src string) string {
	if strings.Contains(src, "://") {
		return src
	}
	if abs, err := filepath.Abs(src); err == nil {
		return abs
	}
	return filepath.Clean(src)
}

func (s *Service) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()
	if err := s.authorize(ctx); err != nil {
		return err
	}

	t, err := decodeTicket(ticket.GetTicket())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}
	source := t.Source
	if source == "" {
		source = s.defaultSource
	}
	if source == "" {
		return status.Error(codes.InvalidArgument, "ticket names no source")
	}
	if !s.allowed[sourceKey(source)] {
		s.logger.Warn("flight source denied", zap.String("source", source))
		return status.Errorf(codes.PermissionDenied, "source %q is not served", source)
	}

	view, err := findash.New(s.db, source).View(ctx, t.selection())
	if err != nil {
		s.logger.Warn("flight view failed", zap.String("source", source), zap.Error(err))
		return statusFor(err)
	}
	defer view.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(view.Rows.Schema()))
	defer writer.Close()
	if err := writer.Write(view.Rows.Record()); err != nil {
		return status.Errorf(codes.Internal, "failed to write record: %v", err)
	}

	s.logger.Debug("flight rows served",
		zap.String("source", source),
		zap.Float64("age_min", view.Filter.AgeMin),
		zap.Float64("age_max", view.Filter.AgeMax),
		zap.Strings("segments", view.Filter.Segments),
		zap.Int("rows", view.Rows.NumRows()),
	)
	return nil
}

func (s *Service) authorize(ctx context.Context) error {
	if s.roles == nil {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	names := md.Get(UsernameKey)
	if len(names) == 0 || names[0] == "" {
		return status.Error(codes.Unauthenticated, "missing username")
	}
	if !s.roles.HasRole(names[0], auth.RoleReader) {
		return status.Errorf(codes.PermissionDenied, "user %q may not read datasets", names[0])
	}
	return nil
}

// statusFor maps dataset errors onto gRPC status codes.
func statusFor(err error) error {
	var (
		dsErr  *loader.DataSourceError
		nvdErr *normalize.NoValidDataError
	)
	switch {
	case errors.As(err, &dsErr):
		if dsErr.NotFound() {
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &nvdErr):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, db.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ---------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------

// NewServer binds a Flight server serving svc on addr. The caller runs
// Serve and stops it with Shutdown.
func NewServer(addr string, svc *Service) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	if err := server.Init(addr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	server.RegisterFlightService(svc)
	return server, nil
}
