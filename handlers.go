package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"kopkar/models"
	"kopkar/pkg/apperr"
	"kopkar/pkg/approval"
	"kopkar/pkg/artifact"
	"kopkar/pkg/audit"
	"kopkar/pkg/cashout"
	"kopkar/pkg/claim"
	"kopkar/pkg/contribution"
	"kopkar/pkg/eligibility"
	"kopkar/pkg/ledger"
	"kopkar/pkg/loan"
	"kopkar/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var (
	ledgerStore   *ledger.Store
	approvalChain *approval.Chain
	contributions *contribution.Workflow
	loanLifecycle *loan.Lifecycle
	claims        *claim.Workflow
	cashouts      *cashout.Workflow
	artifacts     *artifact.LocalStore
	auditRec      *audit.Recorder
)

// initWorkflows wires the domain packages to the shared database, the
// notifier, and the local artifact store. Called after initDB.
func initWorkflows(n notify.Notifier) error {
	var err error
	artifacts, err = artifact.NewLocalStore(uploadBaseDir())
	if err != nil {
		return err
	}
	auditRec = audit.NewRecorder(db)
	ledgerStore = ledger.NewStore(db)
	approvalChain = approval.NewChain(db)
	eval := eligibility.NewEvaluator(eligibility.DefaultRuleset())
	contributions = contribution.NewWorkflow(db, ledgerStore, n, artifacts, auditRec)
	loanLifecycle = loan.NewLifecycle(db, ledgerStore, approvalChain, n, auditRec)
	claims = claim.NewWorkflow(db, ledgerStore, approvalChain, eval, n, auditRec)
	cashouts = cashout.NewWorkflow(db, ledgerStore, eval, n, auditRec)
	return nil
}

func setupRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authGroup := r.Group("")
	authGroup.Use(actorAuthMiddleware())
	authGroup.GET("/me", meHandler)

	authGroup.POST("/members", createMemberHandler)
	authGroup.GET("/members/:id", getMemberHandler)
	authGroup.GET("/members/:id/cashout-eligibility", cashoutEligibilityHandler)
	authGroup.POST("/members/:id/enrollments", enrollHandler)
	authGroup.POST("/enrollments/:id/complete", endEnrollmentHandler(models.EnrollmentCompleted))
	authGroup.POST("/enrollments/:id/cancel", endEnrollmentHandler(models.EnrollmentCancelled))

	authGroup.POST("/contributions", recordContributionHandler)
	authGroup.POST("/contributions/submit", submitContributionHandler)
	authGroup.POST("/contributions/:id/verify", verifyContributionHandler)
	authGroup.PATCH("/contributions/:id", updateContributionHandler)
	authGroup.DELETE("/contributions/:id", deleteContributionHandler)
	authGroup.GET("/contributions", listContributionsHandler)

	authGroup.POST("/loans", applyLoanHandler)
	authGroup.GET("/loans/:id", getLoanHandler)
	authGroup.POST("/loans/:id/approve", loanApproveHandler)
	authGroup.POST("/loans/:id/reject", loanRejectHandler)
	authGroup.POST("/loans/:id/disburse", loanDisburseHandler)
	authGroup.POST("/loans/:id/repayments", loanRepaymentHandler)

	authGroup.POST("/claims", submitClaimHandler)
	authGroup.POST("/claims/:id/approve", claimApproveHandler)
	authGroup.POST("/claims/:id/reject", claimRejectHandler)
	authGroup.POST("/claims/:id/pay", claimPayHandler)

	authGroup.POST("/cashouts", createCashoutHandler)
	authGroup.POST("/cashouts/:id/verify", cashoutStepHandler("verify"))
	authGroup.POST("/cashouts/:id/approve", cashoutStepHandler("approve"))
	authGroup.POST("/cashouts/:id/reject", cashoutRejectHandler)
	authGroup.POST("/cashouts/:id/disburse", cashoutStepHandler("disburse"))

	authGroup.GET("/ledger/balance", ledgerBalanceHandler)
	authGroup.GET("/ledger/entries", ledgerEntriesHandler)
}

// respondErr maps the domain error taxonomy onto HTTP statuses.
func respondErr(c *gin.Context, err error) {
	var (
		ve   *apperr.ValidationError
		ise  *apperr.InvalidStateError
		nfe  *apperr.NotFoundError
		ce   *apperr.ConflictError
		inel *apperr.IneligibleError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.As(err, &nfe):
		c.JSON(http.StatusNotFound, gin.H{"error": nfe.Msg})
	case errors.As(err, &ise):
		c.JSON(http.StatusConflict, gin.H{"error": ise.Msg})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{"error": ce.Msg})
	case errors.As(err, &inel):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "member is not eligible", "reasons": inel.Reasons})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func meHandler(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing actor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ref": actor.Ref, "role": actor.Role})
}

func idParam(c *gin.Context) (uint, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(v), true
}

// parseDate accepts plain dates and RFC3339 timestamps.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func createMemberHandler(c *gin.Context) {
	var req struct {
		MemberNo         string          `json:"member_no" binding:"required"`
		Name             string          `json:"name" binding:"required"`
		Status           string          `json:"status"`
		RegistrationDate string          `json:"registration_date"`
		EligibleAmount   decimal.Decimal `json:"eligible_amount"`
		BankName         string          `json:"bank_name"`
		BankAccountNo    string          `json:"bank_account_no"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := models.Member{
		MemberNo:         req.MemberNo,
		Name:             req.Name,
		Status:           models.MemberPending,
		RegistrationDate: time.Now(),
		EligibleAmount:   req.EligibleAmount,
		BankName:         req.BankName,
		BankAccountNo:    req.BankAccountNo,
	}
	if req.Status != "" {
		m.Status = models.MemberStatus(req.Status)
	}
	if req.RegistrationDate != "" {
		if t, err := parseDate(req.RegistrationDate); err == nil {
			m.RegistrationDate = t
		}
	}
	if err := db.Create(&m).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "member create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": m.ID})
}

func getMemberHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var m models.Member
	if err := db.First(&m, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func cashoutEligibilityHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	res, err := cashouts.CheckEligibility(id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"eligible":               res.Eligible,
		"reasons":                res.Reasons,
		"eligibility_start_date": res.EligibilityStartDate,
	})
}

func enrollHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		ProgramCode string `json:"program_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := models.ProgramEnrollment{
		MemberID:    id,
		ProgramCode: req.ProgramCode,
		Status:      models.EnrollmentActive,
		EnrolledAt:  time.Now(),
	}
	if err := db.Create(&e).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": e.ID})
}

func endEnrollmentHandler(to models.EnrollmentStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		now := time.Now()
		res := db.Model(&models.ProgramEnrollment{}).
			Where("id = ? AND status = ?", id, models.EnrollmentActive).
			Updates(map[string]any{"status": to, "ended_at": now})
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment update failed"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "enrollment is not active"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": to})
	}
}

type contributionRequest struct {
	MemberID      uint            `json:"member_id" binding:"required"`
	PlanCode      string          `json:"plan_code"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	PaymentDate   string          `json:"payment_date"`
	PeriodStart   string          `json:"period_start" binding:"required"`
	PeriodEnd     string          `json:"period_end" binding:"required"`
	ReceiptNumber string          `json:"receipt_number"`
}

func (r *contributionRequest) params(c *gin.Context) (contribution.Params, bool) {
	p := contribution.Params{
		MemberID:      r.MemberID,
		PlanCode:      r.PlanCode,
		Amount:        r.Amount,
		ReceiptNumber: r.ReceiptNumber,
	}
	var err error
	if p.PeriodStart, err = parseDate(r.PeriodStart); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_start"})
		return p, false
	}
	if p.PeriodEnd, err = parseDate(r.PeriodEnd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_end"})
		return p, false
	}
	if r.PaymentDate != "" {
		if p.PaymentDate, err = parseDate(r.PaymentDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment_date"})
			return p, false
		}
	}
	return p, true
}

func recordContributionHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var req contributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, ok := req.params(c)
	if !ok {
		return
	}
	created, err := contributions.RecordByStaff(p, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

// submitContributionHandler handles the member channel: multipart form
// with the receipt image attached.
func submitContributionHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	memberID, err := strconv.ParseUint(c.PostForm("member_id"), 10, 64)
	if err != nil || memberID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member_id"})
		return
	}
	amount, err := decimal.NewFromString(c.PostForm("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	periodStart, err := parseDate(c.PostForm("period_start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_start"})
		return
	}
	periodEnd, err := parseDate(c.PostForm("period_end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_end"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receipt file missing"})
		return
	}
	if file.Size > 5*1024*1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 5MB)"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open upload failed"})
		return
	}
	defer f.Close()

	created, err := contributions.Submit(contribution.Params{
		MemberID:      uint(memberID),
		PlanCode:      c.PostForm("plan_code"),
		Amount:        amount,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		ReceiptNumber: c.PostForm("receipt_number"),
	}, file.Filename, f, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func verifyContributionHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Approved *bool  `json:"approved" binding:"required"`
		Notes    string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := contributions.Verify(id, *req.Approved, req.Notes, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func updateContributionHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Amount     decimal.Decimal `json:"amount" binding:"required"`
		FineAmount decimal.Decimal `json:"fine_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := contributions.Update(id, req.Amount, req.FineAmount, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func deleteContributionHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := contributions.Delete(id, actor); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "contribution deleted"})
}

func listContributionsHandler(c *gin.Context) {
	q := db.Model(&models.Contribution{})
	if v := c.Query("member_id"); v != "" {
		q = q.Where("member_id = ?", v)
	}
	if v := c.Query("status"); v != "" {
		q = q.Where("status = ?", v)
	}
	var items []models.Contribution
	if err := q.Order("id desc").Limit(200).Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func applyLoanHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var req struct {
		MemberID   uint            `json:"member_id" binding:"required"`
		Amount     decimal.Decimal `json:"amount" binding:"required"`
		TermMonths int             `json:"term_months" binding:"required"`
		Purpose    string          `json:"purpose"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := loanLifecycle.Apply(req.MemberID, req.Amount, req.TermMonths, req.Purpose, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func getLoanHandler(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	l, approvals, err := loanLifecycle.Get(id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loan":                l,
		"approvals":           approvals,
		"outstanding_balance": l.OutstandingBalance(),
	})
}

type levelRequest struct {
	Level   int    `json:"level" binding:"required"`
	Remarks string `json:"remarks"`
}

func loanApproveHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := loanLifecycle.ApproveAtLevel(id, req.Level, req.Remarks, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func loanRejectHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := loanLifecycle.RejectAtLevel(id, req.Level, req.Remarks, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func loanDisburseHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	updated, err := loanLifecycle.Disburse(id, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func loanRepaymentHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount" binding:"required"`
		PaymentDate string          `json:"payment_date"`
		Reference   string          `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var paymentDate time.Time
	if req.PaymentDate != "" {
		var err error
		if paymentDate, err = parseDate(req.PaymentDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment_date"})
			return
		}
	}
	updated, err := loanLifecycle.RecordRepayment(id, req.Amount, paymentDate, req.Reference, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"loan":                updated,
		"outstanding_balance": updated.OutstandingBalance(),
	})
}

func submitClaimHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var req struct {
		MemberID uint            `json:"member_id" binding:"required"`
		Type     string          `json:"type" binding:"required"`
		Amount   decimal.Decimal `json:"amount" binding:"required"`
		Details  string          `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := claims.Submit(req.MemberID, models.ClaimType(req.Type), req.Amount, req.Details, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func claimApproveHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := claims.ApproveAtLevel(id, req.Level, req.Remarks, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func claimRejectHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := claims.RejectAtLevel(id, req.Level, req.Remarks, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func claimPayHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	updated, err := claims.Pay(id, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func createCashoutHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	var req struct {
		MemberID uint `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := cashouts.CreateRequest(req.MemberID, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func cashoutStepHandler(step string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := actorFromContext(c)
		id, ok := idParam(c)
		if !ok {
			return
		}
		var (
			updated *models.CashoutRequest
			err     error
		)
		switch step {
		case "verify":
			updated, err = cashouts.Verify(id, actor)
		case "approve":
			updated, err = cashouts.Approve(id, actor)
		default:
			updated, err = cashouts.Disburse(id, actor)
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func cashoutRejectHandler(c *gin.Context) {
	actor, _ := actorFromContext(c)
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	updated, err := cashouts.Reject(id, req.Reason, actor)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func ledgerBalanceHandler(c *gin.Context) {
	if v := c.Query("as_of"); v != "" {
		asOf, err := parseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid as_of date"})
			return
		}
		bal, err := ledgerStore.BalanceAsOf(asOf)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal, "as_of": asOf.Format("2006-01-02")})
		return
	}
	bal, err := ledgerStore.CurrentBalance()
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

func ledgerEntriesHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	entries, err := ledgerStore.Entries(limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
