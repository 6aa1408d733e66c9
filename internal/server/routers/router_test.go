package routers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"khaacho/dispatch/internal/business/healing"
	"khaacho/dispatch/internal/business/routing"
	"khaacho/dispatch/internal/domains/common/job"
	"khaacho/dispatch/internal/repo"
	"khaacho/dispatch/internal/server/handlers/ops"
	"khaacho/dispatch/internal/server/handlers/order"
	"khaacho/dispatch/pkg/entity"
	"khaacho/dispatch/pkg/logger"
)

type fakeRouter struct {
	submitted *routing.SubmitRequest
	responded *routing.VendorResponse
	cancelled string
	weights   *routing.Weights
	err       error
}

func (r *fakeRouter) SubmitOrderForRouting(ctx context.Context, req *routing.SubmitRequest) (*routing.Outcome, error) {
	r.submitted = req
	if r.err != nil {
		return nil, r.err
	}
	return &routing.Outcome{OrderID: req.OrderID, Status: entity.OrderStatusVendorAssigned, VendorID: "V1", Attempt: 1}, nil
}

func (r *fakeRouter) HandleVendorResponse(ctx context.Context, resp *routing.VendorResponse) (*routing.Outcome, error) {
	r.responded = resp
	if r.err != nil {
		return nil, r.err
	}
	return &routing.Outcome{OrderID: resp.OrderID, Status: entity.OrderStatusAccepted, VendorID: resp.VendorID}, nil
}

func (r *fakeRouter) CancelOrder(ctx context.Context, orderID, reason string) (*routing.Outcome, error) {
	r.cancelled = orderID + ":" + reason
	if r.err != nil {
		return nil, r.err
	}
	return &routing.Outcome{OrderID: orderID, Status: entity.OrderStatusCancelled}, nil
}

func (r *fakeRouter) GetRoutingStatus(ctx context.Context, orderID string) (*routing.RoutingStatus, error) {
	if orderID != "ORD-1" {
		return nil, fmt.Errorf("%w: %s", routing.ErrOrderNotFound, orderID)
	}
	deadline := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	first := &entity.AssignmentRetry{ID: "R1", VendorID: "V1", AttemptNumber: 1, Status: entity.RetryStatusTimeout, ResponseDeadline: deadline.Add(-2 * time.Hour)}
	second := &entity.AssignmentRetry{ID: "R2", VendorID: "V2", AttemptNumber: 2, Status: entity.RetryStatusInProgress, ResponseDeadline: deadline}
	return &routing.RoutingStatus{
		Order: &entity.Order{
			ID: "ORD-1", RetailerID: "R1", Status: entity.OrderStatusVendorAssigned,
			AssignedVendorID: "V2", Total: decimal.NewFromInt(2400),
		},
		Workflow:     &entity.WorkflowState{CurrentStep: string(routing.StateAwaitingResponse), Status: entity.WorkflowStatusInProgress},
		ActiveRetry:  second,
		Retries:      []*entity.AssignmentRetry{first, second},
		TriedVendors: []string{"V1", "V2"},
		Decisions: []*entity.OrderRoutingLog{
			{Attempt: 1, VendorID: "V1", Strategy: "least_loaded", Reason: "fewest active orders", Candidates: []byte(`[{"vendor_id":"V1"}]`)},
		},
	}, nil
}

func (r *fakeRouter) RunRoutingTimeoutSweep(ctx context.Context) (*routing.SweepReport, error) {
	return &routing.SweepReport{TimedOut: 2, Retried: 1, Resumed: 1}, nil
}

func (r *fakeRouter) UpdateWeights(ctx context.Context, w routing.Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.weights = &w
	return nil
}

func (r *fakeRouter) RecalculateVendorScore(ctx context.Context, vendorID string) (*entity.VendorScore, error) {
	if vendorID != "V1" {
		return nil, fmt.Errorf("vendor score %s: %w", vendorID, repo.ErrNotFound)
	}
	return &entity.VendorScore{VendorID: "V1", OverallScore: 72.5}, nil
}

type fakeHealer struct {
	resolvedNote string
}

func (h *fakeHealer) RunSelfHealingCycle(ctx context.Context) (*healing.CycleReport, error) {
	return &healing.CycleReport{Detected: 3, Created: 3, Executed: 3, Succeeded: 2, Escalated: 1}, nil
}

func (h *fakeHealer) ResolveAction(ctx context.Context, actionID, note string) (*entity.HealingAction, error) {
	if actionID != "H1" {
		return nil, repo.ErrNotFound
	}
	h.resolvedNote = note
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	return &entity.HealingAction{ID: "H1", OrderRef: "ORD-1", IssueType: healing.IssueStuckPendingRecovery,
		RecoveryStatus: entity.HealingStatusSuccess, ResolvedAt: &now}, nil
}

type fakePublisher struct {
	queue string
	job   *job.Job
	err   error
}

func (p *fakePublisher) PublishJSON(queue string, v interface{}) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.queue = queue
	p.job, _ = v.(*job.Job)
	return "JOB-1", nil
}

type envelope struct {
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Path string `json:"path"`
		} `json:"details"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type server struct {
	t         *testing.T
	engine    *gin.Engine
	router    *fakeRouter
	healer    *fakeHealer
	publisher *fakePublisher
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)
	s := &server{t: t, router: &fakeRouter{}, healer: &fakeHealer{}, publisher: &fakePublisher{}}
	s.engine = SetupRoutes(
		order.NewOrderHandler(s.router, s.publisher, "dispatch_routing"),
		ops.NewOpsHandler(s.router, s.healer),
		logger.NewNop(),
	)
	return s
}

func (s *server) do(method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitOrder(t *testing.T) {
	body := `{"order_id":"ORD-1","retailer_id":"R1","payment_method":"CASH","items":[{"product_id":"RICE-25KG","quantity":2}]}`

	t.Run("sync submit returns outcome", func(t *testing.T) {
		s := newServer(t)
		w, env := s.do(http.MethodPost, "/api/v1/routing/orders", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
		}
		var out routing.Outcome
		if err := json.Unmarshal(env.Data, &out); err != nil || out.VendorID != "V1" || out.Status != entity.OrderStatusVendorAssigned {
			t.Fatalf("unexpected outcome %+v %v", out, err)
		}
		req := s.router.submitted
		if req.OrderID != "ORD-1" || len(req.Items) != 1 || req.Items[0].Quantity != 2 {
			t.Fatalf("unexpected routing request %+v", req)
		}
	})

	t.Run("validation details", func(t *testing.T) {
		s := newServer(t)
		w, env := s.do(http.MethodPost, "/api/v1/routing/orders", `{"payment_method":"CHEQUE"}`)
		if w.Code != http.StatusBadRequest || env.Meta.Message != "Validation failed" || len(env.Meta.Details) != 2 {
			t.Fatalf("expected two validation details, got %d %+v", w.Code, env.Meta)
		}
		if s.router.submitted != nil {
			t.Fatalf("expected router untouched")
		}
	})

	t.Run("caller error maps to 400", func(t *testing.T) {
		s := newServer(t)
		s.router.err = fmt.Errorf("%w: order has no items", routing.ErrInvalidRequest)
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders", `{"order_id":"ORD-2"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("not routable maps to 409", func(t *testing.T) {
		s := newServer(t)
		s.router.err = routing.ErrOrderNotRoutable
		w, env := s.do(http.MethodPost, "/api/v1/routing/orders", body)
		if w.Code != http.StatusConflict || env.Meta.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
	})

	t.Run("async submit enqueues job", func(t *testing.T) {
		s := newServer(t)
		w, env := s.do(http.MethodPost, "/api/v1/routing/orders?async=true", body, "X-Request-ID", "req-7")
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
		}
		var data struct {
			JobID   string `json:"job_id"`
			PollURL string `json:"poll_url"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil || data.JobID != "JOB-1" || data.PollURL != "/api/v1/routing/orders/ORD-1" {
			t.Fatalf("unexpected accepted data %+v %v", data, err)
		}
		if s.publisher.queue != "dispatch_routing" || s.publisher.job == nil {
			t.Fatalf("expected job published to dispatch_routing")
		}
		meta := s.publisher.job.Payload.Data
		if meta.ActionType != job.ActionSubmitOrder || meta.ID != "ORD-1" || meta.RequestID != "req-7" {
			t.Fatalf("unexpected job meta %+v", meta)
		}
		if s.router.submitted != nil {
			t.Fatalf("expected no synchronous routing")
		}
	})

	t.Run("async publish failure is 500", func(t *testing.T) {
		s := newServer(t)
		s.publisher.err = errors.New("lmstfy unreachable")
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders?async=1", body)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})
}

func TestGetRoutingStatus(t *testing.T) {
	s := newServer(t)

	w, env := s.do(http.MethodGet, "/api/v1/routing/orders/ORD-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status order.RoutingStatusResponse
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.AssignedVendorID != "V2" || status.WorkflowStep != string(routing.StateAwaitingResponse) || !status.Total.Equal(decimal.NewFromInt(2400)) {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.ActiveRetry == nil || status.ActiveRetry.ID != "R2" || len(status.Retries) != 2 {
		t.Fatalf("unexpected retries %+v", status.Retries)
	}
	if len(status.Decisions) != 1 || string(status.Decisions[0].Candidates) != `[{"vendor_id":"V1"}]` {
		t.Fatalf("unexpected decisions %+v", status.Decisions)
	}

	w, _ = s.do(http.MethodGet, "/api/v1/routing/orders/ORD-404", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestVendorResponseAndCancel(t *testing.T) {
	t.Run("reject is forwarded", func(t *testing.T) {
		s := newServer(t)
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders/ORD-1/response", `{"vendor_id":"V1","accepted":false,"reason":"out of stock"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		got := s.router.responded
		if got.OrderID != "ORD-1" || got.VendorID != "V1" || got.Accepted || got.Reason != "out of stock" {
			t.Fatalf("unexpected vendor response %+v", got)
		}
	})

	t.Run("accepted flag is required", func(t *testing.T) {
		s := newServer(t)
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders/ORD-1/response", `{"vendor_id":"V1"}`)
		if w.Code != http.StatusBadRequest || s.router.responded != nil {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("stale response is 409", func(t *testing.T) {
		s := newServer(t)
		s.router.err = routing.ErrStaleResponse
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders/ORD-1/response", `{"vendor_id":"V9","accepted":true}`)
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
	})

	t.Run("cancel without body", func(t *testing.T) {
		s := newServer(t)
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders/ORD-1/cancel", "")
		if w.Code != http.StatusOK || s.router.cancelled != "ORD-1:" {
			t.Fatalf("expected cancel, got %d %q", w.Code, s.router.cancelled)
		}
	})

	t.Run("cancel with reason", func(t *testing.T) {
		s := newServer(t)
		s.do(http.MethodPost, "/api/v1/routing/orders/ORD-1/cancel", `{"reason":"duplicate order"}`)
		if s.router.cancelled != "ORD-1:duplicate order" {
			t.Fatalf("expected reason forwarded, got %q", s.router.cancelled)
		}
	})

	t.Run("delivered order is 409", func(t *testing.T) {
		s := newServer(t)
		s.router.err = routing.ErrOrderNotCancellable
		w, _ := s.do(http.MethodPost, "/api/v1/routing/orders/ORD-1/cancel", "")
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
	})
}

func TestOpsEndpoints(t *testing.T) {
	s := newServer(t)

	t.Run("timeout sweep", func(t *testing.T) {
		w, env := s.do(http.MethodPost, "/api/v1/routing/sweeps/timeout", "")
		var report routing.SweepReport
		if w.Code != http.StatusOK || json.Unmarshal(env.Data, &report) != nil || report.TimedOut != 2 {
			t.Fatalf("unexpected sweep response %d %s", w.Code, env.Data)
		}
	})

	t.Run("healing cycle", func(t *testing.T) {
		w, env := s.do(http.MethodPost, "/api/v1/routing/sweeps/healing", "")
		var report healing.CycleReport
		if w.Code != http.StatusOK || json.Unmarshal(env.Data, &report) != nil || report.Escalated != 1 {
			t.Fatalf("unexpected healing response %d %s", w.Code, env.Data)
		}
	})

	t.Run("valid weights", func(t *testing.T) {
		w, _ := s.do(http.MethodPut, "/api/v1/routing/config/weights",
			`{"reliability":0.4,"delivery_success":0.3,"response_speed":0.2,"price":0.1}`)
		if w.Code != http.StatusOK || s.router.weights == nil || s.router.weights.Reliability != 0.4 {
			t.Fatalf("expected weights applied, got %d", w.Code)
		}
	})

	t.Run("weights not summing to one", func(t *testing.T) {
		w, _ := s.do(http.MethodPut, "/api/v1/routing/config/weights",
			`{"reliability":0.5,"delivery_success":0.5,"response_speed":0.5,"price":0.5}`)
		if w.Code != http.StatusBadRequest || s.router.weights.Reliability != 0.4 {
			t.Fatalf("expected 400 and previous weights kept, got %d", w.Code)
		}
	})

	t.Run("missing weight", func(t *testing.T) {
		w, _ := s.do(http.MethodPut, "/api/v1/routing/config/weights", `{"reliability":1}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("recalculate score", func(t *testing.T) {
		w, _ := s.do(http.MethodPost, "/api/v1/routing/vendors/V1/score/recalculate", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		w, _ = s.do(http.MethodPost, "/api/v1/routing/vendors/V9/score/recalculate", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("resolve healing action", func(t *testing.T) {
		w, env := s.do(http.MethodPost, "/api/v1/routing/healing/H1/resolve", `{"note":"vendor confirmed by phone"}`)
		if w.Code != http.StatusOK || s.healer.resolvedNote != "vendor confirmed by phone" {
			t.Fatalf("expected resolve, got %d", w.Code)
		}
		if !strings.Contains(string(env.Data), `"recovery_status":"success"`) {
			t.Fatalf("unexpected resolve data %s", env.Data)
		}
		w, _ = s.do(http.MethodPost, "/api/v1/routing/healing/H404/resolve", "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}
