package apiv1

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/database"
	"github.com/remnashop/remnashop/internal/pkg/events"
	"github.com/remnashop/remnashop/internal/pkg/gateway"
	"github.com/remnashop/remnashop/internal/pkg/jobqueue"
	"github.com/remnashop/remnashop/internal/pkg/ledger"
	"github.com/remnashop/remnashop/internal/pkg/pipeline"
	"github.com/remnashop/remnashop/internal/pkg/subscription"
)

// APIServer serves the internal v1 API. The bot process is the only intended
// consumer; it authenticates with the shared service token enforced by the
// router middleware.
type APIServer struct {
	db       *gorm.DB
	subs     *subscription.Service
	ledger   *ledger.Service
	quoter   *pipeline.Quoter
	validate *validator.Validate
}

// NewAPIServer creates a new API server instance wired against the global
// database and job queue.
func NewAPIServer() *APIServer {
	db := database.GetDB()
	sched := jobqueue.NewScheduler(jobqueue.GetManager().GetQueue())
	return &APIServer{
		db:       db,
		subs:     subscription.NewServiceFromDB(db, events.LogSink{}, sched),
		ledger:   ledger.NewServiceFromDB(db),
		quoter:   pipeline.NewQuoter(db),
		validate: validator.New(),
	}
}

// RegisterHandlers attaches all v1 routes to the given router group.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)
	r.Get("/users/:id/subscription", s.GetUserSubscription)
	r.Get("/users/:id/balance", s.GetUserBalance)
	r.Post("/users/:id/trial", s.PostActivateTrial)
	r.Post("/users/:id/quote", s.PostQuote)
	r.Post("/subscriptions/:id/traffic", s.PostAddTraffic)
	r.Post("/subscriptions/:id/devices", s.PostAddDevices)
	r.Post("/subscriptions/:id/squads", s.PostAddSquad)
	r.Post("/subscriptions/:id/disable", s.PostDisable)
}

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// GetUserSubscription returns the user's live subscription record.
func (s *APIServer) GetUserSubscription(c *fiber.Ctx) error {
	userID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	sub, err := models.FindLiveSubscriptionByUserID(s.db, userID)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(sub)
}

// GetUserBalance returns the user's ledger balance in minor units.
func (s *APIServer) GetUserBalance(c *fiber.Ctx) error {
	userID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	balance, err := s.ledger.BalanceOf(c.Context(), userID)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"user_id": userID, "balance": balance})
}

// PostActivateTrial grants the one-per-user trial subscription using the
// configured trial defaults.
func (s *APIServer) PostActivateTrial(c *fiber.Ctx) error {
	userID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	settings := models.GetAppSettings()
	if settings == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Settings not loaded"})
	}
	defaults := subscription.TrialDefaults{
		Days:        settings.GetTrialDays(),
		TrafficGB:   settings.GetTrialTrafficGB(),
		DeviceLimit: settings.GetTrialDeviceLimit(),
		Squad:       settings.GetTrialSquad(),
	}

	sub, err := s.subs.ActivateTrial(c.Context(), userID, defaults)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

type quoteRequest struct {
	Plan       string   `json:"plan" validate:"required"`
	PeriodDays int      `json:"period_days" validate:"required,gt=0"`
	Squads     []string `json:"squads,omitempty"`
	TrafficGB  int      `json:"traffic_gb,omitempty" validate:"gte=0"`
	Devices    int      `json:"devices,omitempty" validate:"gte=0"`
	PromoCode  string   `json:"promo_code,omitempty"`
}

// PostQuote prices a purchase intent without committing anything. Promo code
// uses are not consumed; redemption happens when the payment lands.
func (s *APIServer) PostQuote(c *fiber.Ctx) error {
	userID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	var req quoteRequest
	if err := s.parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	intent := &gateway.PurchaseIntent{
		Plan:       req.Plan,
		PeriodDays: req.PeriodDays,
		Squads:     req.Squads,
		TrafficGB:  req.TrafficGB,
		Devices:    req.Devices,
		PromoCode:  req.PromoCode,
	}
	breakdown, err := s.quoter.Preview(c.Context(), userID, intent)
	if err != nil {
		if errors.Is(err, pipeline.ErrPromoCodeUnusable) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "promo_code_unusable"})
		}
		return s.domainError(c, err)
	}
	return c.JSON(breakdown)
}

type addTrafficRequest struct {
	DeltaGB   int    `json:"delta_gb" validate:"required,gt=0"`
	RequestID string `json:"request_id" validate:"required"`
}

// PostAddTraffic grants additional traffic on a live subscription. Safe to
// retry with the same request_id.
func (s *APIServer) PostAddTraffic(c *fiber.Ctx) error {
	subID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid subscription id")
	}
	var req addTrafficRequest
	if err := s.parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.subs.AddTraffic(c.Context(), subID, req.DeltaGB, req.RequestID); err != nil {
		return s.domainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type addDevicesRequest struct {
	Delta     int    `json:"delta" validate:"required,gt=0"`
	RequestID string `json:"request_id" validate:"required"`
}

// PostAddDevices raises the device limit on a live subscription.
func (s *APIServer) PostAddDevices(c *fiber.Ctx) error {
	subID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid subscription id")
	}
	var req addDevicesRequest
	if err := s.parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.subs.AddDevices(c.Context(), subID, req.Delta, req.RequestID); err != nil {
		return s.domainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type addSquadRequest struct {
	Squad     string `json:"squad" validate:"required"`
	RequestID string `json:"request_id" validate:"required"`
}

// PostAddSquad connects a squad to a live subscription.
func (s *APIServer) PostAddSquad(c *fiber.Ctx) error {
	subID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid subscription id")
	}
	var req addSquadRequest
	if err := s.parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.subs.AddSquad(c.Context(), subID, req.Squad, req.RequestID); err != nil {
		return s.domainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type disableRequest struct {
	Reason string `json:"reason"`
}

// PostDisable disables a subscription and schedules remote revocation.
func (s *APIServer) PostDisable(c *fiber.Ctx) error {
	subID, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid subscription id")
	}
	var req disableRequest
	if err := s.parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.subs.Disable(c.Context(), subID, req.Reason); err != nil {
		return s.domainError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *APIServer) parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return errors.New("invalid request body")
	}
	if err := s.validate.Struct(out); err != nil {
		return err
	}
	return nil
}

func (s *APIServer) domainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, subscription.ErrTrialAlreadyUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "trial_already_used"})
	case errors.Is(err, subscription.ErrDisabled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "subscription_disabled"})
	case errors.Is(err, subscription.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	default:
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": msg})
}
