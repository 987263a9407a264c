package controllers

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/internal/pkg/database"
	"github.com/remnashop/remnashop/internal/pkg/gateway"
	"github.com/remnashop/remnashop/internal/pkg/jobqueue"
	metrics "github.com/remnashop/remnashop/internal/pkg/metrics/counter"
)

var (
	gatewayService *gateway.Service
	gatewayOnce    sync.Once
)

func getGatewayService() *gateway.Service {
	gatewayOnce.Do(func() {
		gatewayService = gateway.NewServiceFromDB(database.GetDB())
	})
	return gatewayService
}

// HandleProviderWebhook accepts POST /webhook/:provider. The handler only
// verifies, records and acks; the saga runs async on the jobqueue so the ack
// always lands inside the provider's timeout window.
func HandleProviderWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	svc := getGatewayService()

	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := map[string]string{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	ev, err := svc.HandleWebhook(c.Context(), provider, rawBody, headers)
	if err != nil {
		if gateway.Rejected(err) {
			_ = metrics.AddRejected(provider)
			log.Warnf("[Webhook] %s: rejected delivery: %v", provider, err)
			if svc.AckOnReject(provider) {
				// Providers that redeliver forever on non-200 still get an
				// ack; the rejection left no state behind.
				return c.SendStatus(fiber.StatusOK)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "rejected"})
		}
		log.Errorf("[Webhook] %s: %v", provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal"})
	}

	if ev.Duplicate {
		_ = metrics.AddDuplicate(ev.Provider)
	} else {
		_ = metrics.AddProcessed(ev.Provider)
	}

	// Fresh deliveries and replays both go through the queue: the stored
	// checkpoint decides what is left to do.
	payload := jobqueue.PaymentPipelineJobPayload{
		Provider:   ev.Record.Provider,
		ExternalID: ev.Record.ExternalID,
	}.ToMap()
	if _, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypePaymentPipeline, payload); err != nil {
		// The record is durable; the dirty backlog of unprocessed events is
		// picked up by a later replay or admin re-run.
		log.Errorf("[Webhook] %s: enqueue failed for %s: %v", ev.Provider, ev.Record.ExternalID, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
