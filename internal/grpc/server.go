package grpc

import (
	"context"
	"errors"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/patteeraL/movra/services/currency-converter/internal/provider"
	"github.com/patteeraL/movra/services/currency-converter/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Error codes carried in the "error" field of a response
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeRateNotAvailable    = "RATE_NOT_AVAILABLE"
	CodeProviderUnreachable = "PROVIDER_UNREACHABLE"
	CodeStorageFailed       = "STORAGE_FAILED"
)

// Converter is the part of the service layer exposed over gRPC
type Converter interface {
	Convert(ctx context.Context, req model.ConvertRequest) (*model.Conversion, error)
	RecentConversions(ctx context.Context) ([]model.ConversionRecord, error)
	State() model.AppStatus
}

// ConverterServer implements currencyconverter.v1.Converter. Requests and
// responses are google.protobuf.Struct messages.
type ConverterServer struct {
	service Converter
	logger  *zap.Logger
}

// NewConverterServer creates a new gRPC server instance
func NewConverterServer(svc Converter, logger *zap.Logger) *ConverterServer {
	return &ConverterServer{
		service: svc,
		logger:  logger,
	}
}

// Convert converts an amount. Request fields: from, to, amount.
func (s *ConverterServer) Convert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	fields := req.GetFields()
	convertReq := model.ConvertRequest{
		From:   fields["from"].GetStringValue(),
		To:     fields["to"].GetStringValue(),
		Amount: fields["amount"].GetNumberValue(),
	}

	conversion, err := s.service.Convert(ctx, convertReq)
	if err != nil {
		s.logger.Error("Failed to convert",
			zap.String("from", convertReq.From),
			zap.String("to", convertReq.To),
			zap.Error(err),
		)
		return errorResponse(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"conversion": conversionToMap(conversion),
	})
}

// ListRecent returns the recent conversions, newest first
func (s *ConverterServer) ListRecent(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	records, err := s.service.RecentConversions(ctx)
	if err != nil {
		s.logger.Error("Failed to list recent conversions", zap.Error(err))
		return errorResponse(err)
	}

	list := make([]interface{}, 0, len(records))
	for _, r := range records {
		list = append(list, recordToMap(r))
	}
	return structpb.NewStruct(map[string]interface{}{
		"conversions": list,
	})
}

// GetStatus returns the application state
func (s *ConverterServer) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.service.State()
	return structpb.NewStruct(map[string]interface{}{
		"countriesLoaded": st.CountriesLoaded,
		"countriesError":  st.CountriesError,
		"countryCount":    st.CountryCount,
		"online":          st.Online,
		"lastError":       st.LastError,
	})
}

// errorResponse reports a domain error in-band, like the HTTP API does
func errorResponse(err error) (*structpb.Struct, error) {
	var (
		validation  *service.ValidationError
		network     *provider.NetworkError
		unsupported provider.ErrUnsupportedPair
	)

	code := CodeStorageFailed
	switch {
	case errors.As(err, &validation):
		code = CodeInvalidArgument
	case errors.As(err, &unsupported):
		code = CodeRateNotAvailable
	case errors.As(err, &network):
		code = CodeProviderUnreachable
	}

	return structpb.NewStruct(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": service.ClientMessage(err),
		},
	})
}

// Helper functions to convert model types to Struct values

func conversionToMap(c *model.Conversion) map[string]interface{} {
	return map[string]interface{}{
		"from":      c.From,
		"to":        c.To,
		"amount":    c.Amount,
		"rate":      c.Rate,
		"converted": c.Converted.StringFixed(2),
		"source":    c.Source,
		"timestamp": c.Timestamp.UnixMilli(),
	}
}

func recordToMap(r model.ConversionRecord) map[string]interface{} {
	return map[string]interface{}{
		"currencies": r.Currencies,
		"rate":       r.Rate,
		"amount":     r.Amount,
		"timestamp":  r.Timestamp,
	}
}
