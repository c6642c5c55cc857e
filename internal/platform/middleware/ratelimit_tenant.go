package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// TenantPlan defines the request budget for a tenant tier. Sustained traffic
// is bounded per minute (plus a burst allowance), total volume per day, and
// in-flight requests by MaxConcurrent.
type TenantPlan struct {
	Name          string `json:"name"`
	PerMinute     int    `json:"per_minute"`
	Burst         int    `json:"burst"`
	DailyCeiling  int    `json:"daily_ceiling"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// RateDecision reports the outcome of an admission check.
type RateDecision struct {
	Allowed    bool   `json:"allowed"`
	Plan       string `json:"plan"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	RetryAfter int    `json:"retry_after"`
	ResetAt    int64  `json:"reset_at"`
}

// TenantUsage is a point-in-time snapshot of a tenant's counters.
type TenantUsage struct {
	TenantID      string `json:"tenant_id"`
	Plan          string `json:"plan"`
	MinuteUsed    int    `json:"minute_used"`
	MinuteLimit   int    `json:"minute_limit"`
	DayUsed       int    `json:"day_used"`
	DayLimit      int    `json:"day_limit"`
	InFlight      int    `json:"in_flight"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// tenantWindow holds one tenant's counters. All fields are guarded by mu.
type tenantWindow struct {
	mu          sync.Mutex
	minuteCount int
	dayCount    int
	inFlight    int
	minuteReset time.Time
	dayReset    time.Time
	lastSeen    time.Time
}

func (w *tenantWindow) roll(now time.Time) {
	if now.After(w.minuteReset) {
		w.minuteCount = 0
		w.minuteReset = now.Add(time.Minute)
	}
	if now.After(w.dayReset) {
		w.dayCount = 0
		w.dayReset = now.Add(24 * time.Hour)
	}
}

// TenantRateLimiter enforces per-tenant request budgets. Every clinic shares
// one budget across all of its users, so a single busy workstation cannot
// starve the rest of the tenant.
type TenantRateLimiter struct {
	mu          sync.RWMutex
	plans       map[string]*TenantPlan
	assignments map[string]string
	windows     map[string]*tenantWindow
	defaultPlan string
}

// DefaultTenantPlans returns the built-in tiers. "clinic" is the default for
// tenants without an explicit assignment.
func DefaultTenantPlans() []TenantPlan {
	return []TenantPlan{
		{Name: "trial", PerMinute: 30, Burst: 10, DailyCeiling: 2000, MaxConcurrent: 4},
		{Name: "clinic", PerMinute: 120, Burst: 40, DailyCeiling: 20000, MaxConcurrent: 16},
		{Name: "hospital", PerMinute: 600, Burst: 150, DailyCeiling: 150000, MaxConcurrent: 64},
		{Name: "network", PerMinute: 2400, Burst: 600, DailyCeiling: 1000000, MaxConcurrent: 256},
	}
}

// NewTenantRateLimiter creates a limiter pre-loaded with the built-in tiers.
func NewTenantRateLimiter() *TenantRateLimiter {
	rl := &TenantRateLimiter{
		plans:       make(map[string]*TenantPlan),
		assignments: make(map[string]string),
		windows:     make(map[string]*tenantWindow),
		defaultPlan: "clinic",
	}
	for _, p := range DefaultTenantPlans() {
		plan := p
		rl.plans[plan.Name] = &plan
	}
	return rl
}

// RegisterPlan adds or replaces a tier by name.
func (rl *TenantRateLimiter) RegisterPlan(plan TenantPlan) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	p := plan
	rl.plans[p.Name] = &p
}

// AssignPlan puts tenantID on the named tier.
func (rl *TenantRateLimiter) AssignPlan(tenantID, planName string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.plans[planName]; !ok {
		return fmt.Errorf("rate plan %q not found", planName)
	}
	rl.assignments[tenantID] = planName
	return nil
}

// PlanFor returns the tier in effect for tenantID.
func (rl *TenantRateLimiter) PlanFor(tenantID string) *TenantPlan {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	name, ok := rl.assignments[tenantID]
	if !ok {
		name = rl.defaultPlan
	}
	plan, ok := rl.plans[name]
	if !ok {
		plan = rl.plans[rl.defaultPlan]
	}
	return plan
}

func (rl *TenantRateLimiter) window(tenantID string) *tenantWindow {
	rl.mu.RLock()
	w, ok := rl.windows[tenantID]
	rl.mu.RUnlock()
	if ok {
		return w
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok := rl.windows[tenantID]; ok {
		return w
	}
	now := time.Now()
	w = &tenantWindow{
		minuteReset: now.Add(time.Minute),
		dayReset:    now.Add(24 * time.Hour),
		lastSeen:    now,
	}
	rl.windows[tenantID] = w
	return w
}

// Allow admits or rejects a request for tenantID. On admission the returned
// release func MUST be called when the request finishes; on rejection it is
// nil. The effective per-minute limit is PerMinute + Burst.
func (rl *TenantRateLimiter) Allow(tenantID string) (func(), RateDecision) {
	plan := rl.PlanFor(tenantID)
	w := rl.window(tenantID)
	minuteLimit := plan.PerMinute + plan.Burst

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.roll(now)
	w.lastSeen = now

	d := RateDecision{
		Plan:    plan.Name,
		Limit:   minuteLimit,
		ResetAt: w.minuteReset.Unix(),
	}

	switch {
	case plan.MaxConcurrent > 0 && w.inFlight >= plan.MaxConcurrent:
		d.RetryAfter = 1
		return nil, d
	case w.minuteCount >= minuteLimit:
		d.RetryAfter = secondsUntil(w.minuteReset)
		return nil, d
	case w.dayCount >= plan.DailyCeiling:
		d.RetryAfter = secondsUntil(w.dayReset)
		return nil, d
	}

	w.minuteCount++
	w.dayCount++
	w.inFlight++

	d.Allowed = true
	d.Remaining = minuteLimit - w.minuteCount
	release := func() {
		w.mu.Lock()
		if w.inFlight > 0 {
			w.inFlight--
		}
		w.mu.Unlock()
	}
	return release, d
}

// Usage returns a snapshot of tenantID's counters.
func (rl *TenantRateLimiter) Usage(tenantID string) *TenantUsage {
	plan := rl.PlanFor(tenantID)
	w := rl.window(tenantID)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.roll(time.Now())

	return &TenantUsage{
		TenantID:      tenantID,
		Plan:          plan.Name,
		MinuteUsed:    w.minuteCount,
		MinuteLimit:   plan.PerMinute + plan.Burst,
		DayUsed:       w.dayCount,
		DayLimit:      plan.DailyCeiling,
		InFlight:      w.inFlight,
		MaxConcurrent: plan.MaxConcurrent,
	}
}

// Reset zeroes tenantID's counters and restarts its windows.
func (rl *TenantRateLimiter) Reset(tenantID string) {
	w := rl.window(tenantID)
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.minuteCount = 0
	w.dayCount = 0
	w.inFlight = 0
	w.minuteReset = now.Add(time.Minute)
	w.dayReset = now.Add(24 * time.Hour)
}

// Prune drops windows idle since before cutoff with no in-flight requests.
// It returns the number of windows removed.
func (rl *TenantRateLimiter) Prune(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for id, w := range rl.windows {
		w.mu.Lock()
		idle := w.lastSeen.Before(cutoff) && w.inFlight == 0
		w.mu.Unlock()
		if idle {
			delete(rl.windows, id)
			removed++
		}
	}
	return removed
}

// StartPruning removes idle tenant windows on a periodic interval until ctx
// is cancelled. Call it in a goroutine.
func (rl *TenantRateLimiter) StartPruning(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(time.Now().Add(-24 * time.Hour))
		}
	}
}

// TenantRateLimit enforces the per-tenant budget. The subject is the
// "tenant_id" context value set by TenantMiddleware; requests that bypass
// tenant resolution fall back to the client IP.
func TenantRateLimit(limiter *TenantRateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			subject := rateLimitSubject(c)
			release, d := limiter.Allow(subject)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))

			if release == nil {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			defer release()
			return next(c)
		}
	}
}

func rateLimitSubject(c echo.Context) string {
	if s, ok := c.Get("tenant_id").(string); ok && s != "" {
		return s
	}
	return c.RealIP()
}

// RateLimitHandler exposes admin endpoints for plan and tenant budget
// management.
type RateLimitHandler struct {
	limiter *TenantRateLimiter
}

func NewRateLimitHandler(limiter *TenantRateLimiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

func (h *RateLimitHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/rate-limits/plans", h.ListPlans)
	g.POST("/rate-limits/plans", h.UpsertPlan)
	g.GET("/rate-limits/tenants/:id", h.TenantUsage)
	g.PUT("/rate-limits/tenants/:id/plan", h.AssignTenantPlan)
	g.POST("/rate-limits/tenants/:id/reset", h.ResetTenant)
}

func (h *RateLimitHandler) ListPlans(c echo.Context) error {
	h.limiter.mu.RLock()
	plans := make([]TenantPlan, 0, len(h.limiter.plans))
	for _, p := range h.limiter.plans {
		plans = append(plans, *p)
	}
	h.limiter.mu.RUnlock()
	return c.JSON(http.StatusOK, plans)
}

func (h *RateLimitHandler) UpsertPlan(c echo.Context) error {
	var plan TenantPlan
	if err := c.Bind(&plan); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid plan: "+err.Error())
	}
	if plan.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan name is required")
	}
	h.limiter.RegisterPlan(plan)
	return c.JSON(http.StatusOK, plan)
}

func (h *RateLimitHandler) TenantUsage(c echo.Context) error {
	return c.JSON(http.StatusOK, h.limiter.Usage(c.Param("id")))
}

func (h *RateLimitHandler) AssignTenantPlan(c echo.Context) error {
	tenantID := c.Param("id")
	var body struct {
		Plan string `json:"plan"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body: "+err.Error())
	}
	if err := h.limiter.AssignPlan(tenantID, body.Plan); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"tenant_id": tenantID, "plan": body.Plan})
}

func (h *RateLimitHandler) ResetTenant(c echo.Context) error {
	tenantID := c.Param("id")
	h.limiter.Reset(tenantID)
	return c.JSON(http.StatusOK, map[string]string{"tenant_id": tenantID, "status": "reset"})
}

// secondsUntil returns whole seconds from now until t, minimum 1.
func secondsUntil(t time.Time) int {
	s := int(time.Until(t).Seconds())
	if s < 1 {
		return 1
	}
	return s
}
