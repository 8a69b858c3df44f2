package core

import (
	"time"

	"patchcenter/clients"
	"patchcenter/services"
)

// CoreUseCase orchestrates the operation lifecycle: creation and fan-out,
// queue polling, result ingestion, expiration sweeping and scheduled firing.
type CoreUseCase struct {
	catalogClient     clients.CatalogClient
	tagsClient        clients.TagsClient
	operationsService services.OperationsService
	queueService      services.AgentQueueService
	resultsService    services.ResultsService
	schedulerService  services.SchedulerService
	txManager         services.TransactionManager

	// How long an agent has to report results after pickup
	agentTTL time.Duration
}

func NewCoreUseCase(
	catalogClient clients.CatalogClient,
	tagsClient clients.TagsClient,
	operationsService services.OperationsService,
	queueService services.AgentQueueService,
	resultsService services.ResultsService,
	schedulerService services.SchedulerService,
	txManager services.TransactionManager,
	agentTTL time.Duration,
) *CoreUseCase {
	return &CoreUseCase{
		catalogClient:     catalogClient,
		tagsClient:        tagsClient,
		operationsService: operationsService,
		queueService:      queueService,
		resultsService:    resultsService,
		schedulerService:  schedulerService,
		txManager:         txManager,
		agentTTL:          agentTTL,
	}
}
