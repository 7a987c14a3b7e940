package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeDomainError maps domain sentinels onto HTTP statuses. Unknown errors
// become an opaque 500; internals never leak to the client.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrSignatureMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment verification failed", Code: model.ErrCodeSignatureVerificationFailed})
	case errors.Is(err, domain.ErrAmountMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment verification failed", Code: model.ErrCodeAmountMismatch})
	case errors.Is(err, domain.ErrOrderIDMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payment verification failed", Code: model.ErrCodeOrderIDMismatch})
	case errors.Is(err, domain.ErrTrialAlreadyUsed):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "trial already used"})
	case errors.Is(err, domain.ErrNoActiveSubscription):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no active subscription"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "operation not allowed in current state"})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "payment gateway unavailable", Code: model.ErrCodeGatewayFailure})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

type createOrderRequest struct {
	Plan         string `json:"plan"`
	BillingCycle string `json:"billingCycle"`
	DiscountCode string `json:"discountCode,omitempty"`
}

type createOrderResponse struct {
	OrderID     string              `json:"orderId"`
	Amount      int64               `json:"amount"`
	Currency    string              `json:"currency"`
	PaymentID   string              `json:"paymentId"` // internal payment record id, not the gateway payment id
	Key         string              `json:"key"`
	Receipt     string              `json:"receipt"`
	PlanDetails usecase.PlanDetails `json:"planDetails"`
}

func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	cycle := model.BillingCycle(req.BillingCycle)
	if req.BillingCycle == "" {
		cycle = model.CycleMonthly
	}
	meta := usecase.RequestMeta{IP: r.RemoteAddr, UserAgent: r.UserAgent()}

	res, err := s.paymentUC.CreateOrder(r.Context(), claimsFrom(r.Context()).UserID(), model.PlanTier(req.Plan), cycle, req.DiscountCode, meta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     res.GatewayOrderID,
		Amount:      res.Amount,
		Currency:    res.Currency,
		PaymentID:   res.PaymentRecordID,
		Key:         res.KeyID,
		Receipt:     res.Receipt,
		PlanDetails: res.PlanDetails,
	})
}

type verifyRequest struct {
	OrderID   string `json:"razorpayOrderId"`
	PaymentID string `json:"razorpayPaymentId"`
	Signature string `json:"razorpaySignature"`
}

type verifyResponse struct {
	Success      bool                 `json:"success"`
	IsDuplicate  bool                 `json:"isDuplicate,omitempty"`
	Status       string               `json:"status"`
	Subscription *usecase.UsageReport `json:"subscription,omitempty"`
}

func (s *Server) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	out, err := s.paymentUC.VerifyPayment(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := verifyResponse{
		Success:     out.Success,
		IsDuplicate: out.IsDuplicate,
		Status:      string(out.Payment.Status),
	}
	if report, err := s.subUC.Usage(r.Context(), out.Payment.UserID); err == nil {
		resp.Subscription = report
	}
	writeJSON(w, http.StatusOK, resp)
}

type orderStatusResponse struct {
	Exists    bool   `json:"exists"`
	Processed bool   `json:"processed"`
	Status    string `json:"status,omitempty"`
}

func (s *Server) orderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order id is required"})
		return
	}
	got, err := s.paymentUC.CheckIdempotency(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderStatusResponse{
		Exists:    got.Exists,
		Processed: got.Processed,
		Status:    string(got.Status),
	})
}

func (s *Server) billingHistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	recs, err := s.paymentUC.BillingHistory(r.Context(), claimsFrom(r.Context()).UserID(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type entry struct {
		OrderID   string `json:"orderId"`
		Plan      string `json:"plan"`
		Cycle     string `json:"billingCycle"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
		CreatedAt string `json:"createdAt"`
	}
	out := make([]entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, entry{
			OrderID:   rec.GatewayOrderID,
			Plan:      string(rec.Plan),
			Cycle:     string(rec.Cycle),
			Amount:    rec.Amount,
			Currency:  rec.Currency,
			Status:    string(rec.Status),
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []entry `json:"data"`
	}{Data: out})
}

func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.subUC.Usage(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req) // reason is optional

	sub, err := s.subUC.Cancel(r.Context(), claimsFrom(r.Context()).UserID(), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status     string `json:"status"`
		ExpiryDate string `json:"accessUntil,omitempty"`
	}{
		Status: string(sub.Status),
		ExpiryDate: func() string {
			if sub.ExpiryDate == nil {
				return ""
			}
			return sub.ExpiryDate.UTC().Format("2006-01-02T15:04:05Z")
		}(),
	})
}

func (s *Server) upgradePreviewHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan         string `json:"plan"`
		BillingCycle string `json:"billingCycle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	cycle := model.BillingCycle(req.BillingCycle)
	if req.BillingCycle == "" {
		cycle = model.CycleMonthly
	}
	q, err := s.subUC.UpgradePreview(r.Context(), claimsFrom(r.Context()).UserID(), model.PlanTier(req.Plan), cycle)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) startTrialHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Plan == "" {
		req.Plan = string(model.PlanPro)
	}
	sub, err := s.subUC.StartTrial(r.Context(), claimsFrom(r.Context()).UserID(), model.PlanTier(req.Plan))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Plan     string `json:"plan"`
		Status   string `json:"status"`
		TrialEnd string `json:"trialEnd"`
	}{
		Plan:     string(sub.Plan),
		Status:   string(sub.Status),
		TrialEnd: sub.TrialEnd.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

func (s *Server) cancelTrialHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.CancelTrial(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Plan   string `json:"plan"`
		Status string `json:"status"`
	}{Plan: string(sub.Plan), Status: string(sub.Status)})
}

func (s *Server) deductCreditsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount  int    `json:"amount"`
		Feature string `json:"feature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	res, err := s.subUC.DeductCredits(r.Context(), claimsFrom(r.Context()).UserID(), req.Amount, req.Feature)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// insufficiency is a 200 with ok=false, not an error status
	writeJSON(w, http.StatusOK, struct {
		OK        bool `json:"ok"`
		Remaining int  `json:"remaining"`
		Unlimited bool `json:"unlimited,omitempty"`
	}{OK: res.OK, Remaining: res.Remaining, Unlimited: res.Unlimited})
}

func (s *Server) referralCodeHandler(w http.ResponseWriter, r *http.Request) {
	code, err := s.subUC.EnsureReferralCode(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Code string `json:"code"`
	}{Code: code})
}

func (s *Server) applyReferralHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.subUC.ApplyReferral(r.Context(), claimsFrom(r.Context()).UserID(), req.Code); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applied bool `json:"applied"`
	}{Applied: true})
}

func (s *Server) refundHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	rec, err := s.paymentUC.RefundPayment(r.Context(), orderID, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
		Amount  int64  `json:"refundedAmount"`
	}{OrderID: rec.GatewayOrderID, Status: string(rec.Status), Amount: rec.Refund.Amount})
}
