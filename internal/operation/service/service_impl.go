package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/merchantctx"
	"github.com/smallbiznis/payway/internal/operation/domain"
	"github.com/smallbiznis/payway/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("operation.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOperationRequest) (domain.Operation, error) {
	if req.Type != domain.TypeCapture && req.Type != domain.TypeRefund {
		return domain.Operation{}, domain.ErrInvalidType
	}
	if req.Amount <= 0 {
		return domain.Operation{}, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	op := domain.Operation{
		ID:                s.genID.Generate(),
		MerchantID:        req.MerchantID,
		TransactionID:     req.TransactionID,
		ParentOperationID: req.ParentOperationID,
		Type:              req.Type,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
		RefundReason:      strings.TrimSpace(req.Reason),
		Status:            domain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, &op); err != nil {
		return domain.Operation{}, err
	}

	return op, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Operation, error) {
	op, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Operation{}, err
	}
	if op == nil {
		return domain.Operation{}, domain.ErrNotFound
	}
	return *op, nil
}

func (s *Service) ListByTransaction(ctx context.Context, transactionID snowflake.ID) ([]domain.Operation, error) {
	items, err := s.repo.ListByTransaction(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}

	ops := make([]domain.Operation, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		ops = append(ops, *item)
	}
	return ops, nil
}

func (s *Service) RefundedTotal(ctx context.Context, transactionID snowflake.ID) (int64, error) {
	return s.repo.SumRefunded(ctx, s.db, transactionID)
}

func (s *Service) SuccessfulCapture(ctx context.Context, transactionID snowflake.ID) (domain.Operation, error) {
	op, err := s.repo.FindSuccessfulCapture(ctx, s.db, transactionID)
	if err != nil {
		return domain.Operation{}, err
	}
	if op == nil {
		return domain.Operation{}, domain.ErrNoCaptureFound
	}
	return *op, nil
}

func (s *Service) Stats(ctx context.Context) ([]domain.StatsRow, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	return s.repo.StatsByMerchant(ctx, s.db, merchantID)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Operation, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.Operation{}, domain.ErrInvalidMerchant
	}

	opID, err := parseID(id)
	if err != nil {
		return domain.Operation{}, err
	}

	op, err := s.repo.FindByIDForMerchant(ctx, s.db, merchantID, opID)
	if err != nil {
		return domain.Operation{}, err
	}
	if op == nil {
		return domain.Operation{}, domain.ErrNotFound
	}
	return *op, nil
}

func (s *Service) List(ctx context.Context, req domain.ListOperationRequest) (domain.ListOperationResponse, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.ListOperationResponse{}, domain.ErrInvalidMerchant
	}

	filter := domain.ListOperationFilter{
		Type:   strings.TrimSpace(req.Type),
		Status: strings.TrimSpace(req.Status),
	}
	if v := strings.TrimSpace(req.TransactionID); v != "" {
		id, err := snowflake.ParseString(v)
		if err != nil {
			return domain.ListOperationResponse{}, domain.ErrInvalidID
		}
		filter.TransactionID = id
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, merchantID, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListOperationResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(op *domain.Operation) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        op.ID.String(),
			CreatedAt: op.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	ops := make([]domain.Operation, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		ops = append(ops, *item)
	}

	resp := domain.ListOperationResponse{Operations: ops}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) CancelForMerchant(ctx context.Context, id string) (domain.Operation, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return domain.Operation{}, err
	}
	return s.Cancel(ctx, op.ID)
}

func (s *Service) MarkSubmitted(ctx context.Context, id snowflake.ID, pspReference string) (domain.Operation, error) {
	now := s.clock.Now()
	ok, err := s.repo.MarkSubmitted(ctx, s.db, id, pspReference, now)
	if err != nil {
		return domain.Operation{}, err
	}
	if !ok {
		return domain.Operation{}, domain.ErrInvalidState
	}

	return s.GetByID(ctx, id)
}

func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.Operation, error) {
	op, err := s.repo.FindByID(ctx, s.db, req.OperationID)
	if err != nil {
		return domain.Operation{}, err
	}
	if op == nil {
		return domain.Operation{}, domain.ErrNotFound
	}

	to := domain.StatusFailed
	if req.Succeeded {
		to = domain.StatusSuccess
	}

	// Replayed settlements are accepted as long as they agree.
	if op.Terminal() {
		if op.Status == to {
			return *op, nil
		}
		return domain.Operation{}, domain.ErrInvalidState
	}

	now := s.clock.Now()
	ok, err := s.repo.Settle(ctx, s.db, op.ID, to, req.PSPTransactionID, req.ErrorCode, req.ErrorMessage, req.Payload, now)
	if err != nil {
		return domain.Operation{}, err
	}
	if !ok {
		return domain.Operation{}, domain.ErrInvalidState
	}

	op.Status = to
	op.PSPTransactionID = req.PSPTransactionID
	op.PSPResponse = datatypes.JSONMap{}
	for k, v := range req.Payload {
		op.PSPResponse[k] = v
	}
	op.ErrorCode = req.ErrorCode
	op.ErrorMessage = req.ErrorMessage
	op.ProcessedAt = &now
	op.UpdatedAt = now
	return *op, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (domain.Operation, error) {
	now := s.clock.Now()
	ok, err := s.repo.Cancel(ctx, s.db, id, now)
	if err != nil {
		return domain.Operation{}, err
	}
	if !ok {
		return domain.Operation{}, domain.ErrInvalidState
	}

	return s.GetByID(ctx, id)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
