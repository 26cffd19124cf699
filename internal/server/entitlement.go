package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
)

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

func parseLocalDateQuery(c *gin.Context, name string) (*entitlementdomain.LocalDate, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	date, err := entitlementdomain.ParseLocalDate(raw)
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_date", "expected YYYY-MM-DD"))
		return nil, false
	}
	return &date, true
}

func parsePolicy(raw string) (*subscriptiondomain.BillingActionPolicy, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return nil, nil
	}
	policy := subscriptiondomain.BillingActionPolicy(raw)
	switch policy {
	case subscriptiondomain.PolicyImmediate, subscriptiondomain.PolicyEndOfTerm:
		return &policy, nil
	default:
		return nil, subscriptiondomain.ErrInvalidPolicy
	}
}

// respondMutation unwraps post-commit hook failures so the committed result
// still reaches the caller, with the warning attached.
func respondMutation(c *gin.Context, data any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"data": data})
		return
	}
	var postCommit *plugin.PostCommitHookError
	if errors.As(err, &postCommit) {
		c.JSON(http.StatusOK, gin.H{"data": data, "warning": postCommit.Error()})
		return
	}
	AbortWithError(c, err)
}

func (s *Server) CreateEntitlement(c *gin.Context) {
	var req struct {
		AccountID   string                         `json:"account_id"`
		ExternalKey string                         `json:"external_key"`
		Specifier   *subscriptiondomain.Specifier  `json:"specifier"`
		Specifiers  []subscriptiondomain.Specifier `json:"specifiers"`
		Date        *entitlementdomain.LocalDate   `json:"effective_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountID, err := snowflake.ParseString(strings.TrimSpace(req.AccountID))
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_id", "invalid id"))
		return
	}

	ctx := c.Request.Context()
	if len(req.Specifiers) > 0 {
		entitlements, err := s.entitlementSvc.CreateBaseEntitlementWithAddOns(ctx, entitlementdomain.CreateWithAddOnsRequest{
			AccountID:     accountID,
			ExternalKey:   req.ExternalKey,
			Specifiers:    req.Specifiers,
			EffectiveDate: req.Date,
		})
		respondMutation(c, entitlements, err)
		return
	}
	if req.Specifier == nil {
		AbortWithError(c, newValidationError("specifier", "required", "specifier is required"))
		return
	}

	entitlement, err := s.entitlementSvc.CreateBaseEntitlement(ctx, entitlementdomain.CreateRequest{
		AccountID:     accountID,
		ExternalKey:   req.ExternalKey,
		Specifier:     *req.Specifier,
		EffectiveDate: req.Date,
	})
	respondMutation(c, entitlement, err)
}

func (s *Server) AddEntitlement(c *gin.Context) {
	bundleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Specifier subscriptiondomain.Specifier `json:"specifier"`
		Date      *entitlementdomain.LocalDate `json:"effective_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entitlement, err := s.entitlementSvc.AddEntitlement(c.Request.Context(), entitlementdomain.AddEntitlementRequest{
		BundleID:      bundleID,
		Specifier:     req.Specifier,
		EffectiveDate: req.Date,
	})
	respondMutation(c, entitlement, err)
}

func (s *Server) ChangePlan(c *gin.Context) {
	subscriptionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Plan      subscriptiondomain.PlanSpecifier   `json:"plan"`
		Overrides []subscriptiondomain.PriceOverride `json:"overrides"`
		Date      *entitlementdomain.LocalDate       `json:"effective_date"`
		Policy    string                             `json:"billing_policy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	policy, err := parsePolicy(req.Policy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	changeReq := entitlementdomain.ChangePlanRequest{
		SubscriptionID: subscriptionID,
		Plan:           req.Plan,
		Overrides:      req.Overrides,
		EffectiveDate:  req.Date,
	}

	ctx := c.Request.Context()
	if policy != nil {
		entitlement, err := s.entitlementSvc.ChangePlanOverrideBillingPolicy(ctx, changeReq, *policy)
		respondMutation(c, entitlement, err)
		return
	}
	entitlement, err := s.entitlementSvc.ChangePlan(ctx, changeReq)
	respondMutation(c, entitlement, err)
}

func (s *Server) CancelEntitlement(c *gin.Context) {
	subscriptionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Date   *entitlementdomain.LocalDate `json:"effective_date"`
		Policy string                       `json:"billing_policy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	policy, err := parsePolicy(req.Policy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	var entitlement entitlementdomain.Entitlement
	switch {
	case req.Date != nil && policy != nil:
		entitlement, err = s.entitlementSvc.CancelWithDateOverrideBillingPolicy(ctx, entitlementdomain.CancelRequest{
			SubscriptionID: subscriptionID,
			EffectiveDate:  req.Date,
		}, *policy)
	case policy != nil:
		entitlement, err = s.entitlementSvc.CancelWithPolicy(ctx, subscriptionID, *policy)
	default:
		entitlement, err = s.entitlementSvc.CancelWithDate(ctx, entitlementdomain.CancelRequest{
			SubscriptionID: subscriptionID,
			EffectiveDate:  req.Date,
		})
	}
	respondMutation(c, entitlement, err)
}

func (s *Server) PauseBundle(c *gin.Context) {
	bundleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	date, ok := parseLocalDateQuery(c, "effective_date")
	if !ok {
		return
	}
	if err := s.entitlementSvc.Pause(c.Request.Context(), bundleID, date); err != nil {
		respondMutation(c, gin.H{"bundle_id": bundleID.String()}, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"bundle_id": bundleID.String(), "paused": true}})
}

func (s *Server) ResumeBundle(c *gin.Context) {
	bundleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	date, ok := parseLocalDateQuery(c, "effective_date")
	if !ok {
		return
	}
	if err := s.entitlementSvc.Resume(c.Request.Context(), bundleID, date); err != nil {
		respondMutation(c, gin.H{"bundle_id": bundleID.String()}, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"bundle_id": bundleID.String(), "resumed": true}})
}

func (s *Server) TransferEntitlements(c *gin.Context) {
	var req struct {
		SourceAccountID string                       `json:"source_account_id"`
		DestAccountID   string                       `json:"dest_account_id"`
		ExternalKey     string                       `json:"external_key"`
		Date            *entitlementdomain.LocalDate `json:"effective_date"`
		Policy          string                       `json:"billing_policy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	sourceID, err := snowflake.ParseString(strings.TrimSpace(req.SourceAccountID))
	if err != nil {
		AbortWithError(c, newValidationError("source_account_id", "invalid_id", "invalid id"))
		return
	}
	destID, err := snowflake.ParseString(strings.TrimSpace(req.DestAccountID))
	if err != nil {
		AbortWithError(c, newValidationError("dest_account_id", "invalid_id", "invalid id"))
		return
	}
	policy, err := parsePolicy(req.Policy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transferReq := entitlementdomain.TransferRequest{
		SourceAccountID: sourceID,
		DestAccountID:   destID,
		ExternalKey:     req.ExternalKey,
		EffectiveDate:   req.Date,
	}

	ctx := c.Request.Context()
	var result entitlementdomain.TransferResult
	if policy != nil {
		result, err = s.entitlementSvc.TransferEntitlementsOverrideBillingPolicy(ctx, transferReq, *policy)
	} else {
		result, err = s.entitlementSvc.TransferEntitlements(ctx, transferReq)
	}
	if err != nil {
		respondMutation(c, result, err)
		return
	}

	body := gin.H{"data": gin.H{"bundle_id": result.BundleID.String()}}
	if result.BlockingErr != nil {
		body["warning"] = "transfer committed, some cancellation blocking states were not recorded: " + result.BlockingErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) DryRunChangePlan(c *gin.Context) {
	bundleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	targetPlan := strings.TrimSpace(c.Query("target_plan"))
	if targetPlan == "" {
		AbortWithError(c, newValidationError("target_plan", "required", "target_plan is required"))
		return
	}
	date, ok := parseLocalDateQuery(c, "effective_date")
	if !ok {
		return
	}

	statuses, err := s.entitlementSvc.GetDryRunStatusForChange(c.Request.Context(), bundleID, targetPlan, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statuses})
}

func (s *Server) GetEntitlement(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entitlement, err := s.entitlementSvc.GetEntitlementForID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entitlement})
}

func (s *Server) ListBundleEntitlements(c *gin.Context) {
	bundleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	entitlements, err := s.entitlementSvc.GetAllEntitlementsForBundle(c.Request.Context(), bundleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entitlements})
}

func (s *Server) ListAccountEntitlements(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	externalKey := strings.TrimSpace(c.Query("external_key"))
	var (
		entitlements []entitlementdomain.Entitlement
		err          error
	)
	if externalKey != "" {
		entitlements, err = s.entitlementSvc.GetAllEntitlementsForAccountIDAndExternalKey(ctx, accountID, externalKey)
	} else {
		entitlements, err = s.entitlementSvc.GetAllEntitlementsForAccountID(ctx, accountID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entitlements})
}

func (s *Server) SetBlockingState(c *gin.Context) {
	var req struct {
		BlockableID      string                       `json:"blockable_id"`
		BlockableType    string                       `json:"blockable_type"`
		Service          string                       `json:"service"`
		StateName        string                       `json:"state_name"`
		BlockChange      bool                         `json:"block_change"`
		BlockEntitlement bool                         `json:"block_entitlement"`
		BlockBilling     bool                         `json:"block_billing"`
		Date             *entitlementdomain.LocalDate `json:"effective_date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	blockableID, err := snowflake.ParseString(strings.TrimSpace(req.BlockableID))
	if err != nil {
		AbortWithError(c, newValidationError("blockable_id", "invalid_id", "invalid id"))
		return
	}

	state, err := s.entitlementSvc.SetBlockingState(c.Request.Context(), entitlementdomain.SetBlockingStateRequest{
		BlockableID:      blockableID,
		BlockableType:    blockingdomain.BlockableType(strings.ToUpper(strings.TrimSpace(req.BlockableType))),
		Service:          req.Service,
		StateName:        req.StateName,
		BlockChange:      req.BlockChange,
		BlockEntitlement: req.BlockEntitlement,
		BlockBilling:     req.BlockBilling,
		EffectiveDate:    req.Date,
	})
	respondMutation(c, state, err)
}

func (s *Server) GetBlockingStates(c *gin.Context) {
	blockableID, err := snowflake.ParseString(strings.TrimSpace(c.Query("blockable_id")))
	if err != nil {
		AbortWithError(c, newValidationError("blockable_id", "invalid_id", "invalid id"))
		return
	}
	blockableType := blockingdomain.BlockableType(strings.ToUpper(strings.TrimSpace(c.Query("blockable_type"))))
	switch blockableType {
	case blockingdomain.BlockableAccount, blockingdomain.BlockableBundle, blockingdomain.BlockableSubscription:
	default:
		AbortWithError(c, newValidationError("blockable_type", "invalid_type", "expected ACCOUNT, BUNDLE or SUBSCRIPTION"))
		return
	}

	states, err := s.entitlementSvc.GetBlockingStates(c.Request.Context(), blockableID, blockableType, strings.TrimSpace(c.Query("service")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": states})
}
