// Package mocks provides gomock implementations of the coordinator ports in internal/core.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	ledger := mocks.NewMockBudgetLedger(ctrl)
//	ledger.EXPECT().ConsumeBudget(gomock.Any(), gomock.Any()).Return(nil, errBackend)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_metadata_store_mock.go github.com/target/aggregation-worker/internal/core JobMetadataStore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_queue_mock.go github.com/target/aggregation-worker/internal/core JobQueue
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=budget_ledger_mock.go github.com/target/aggregation-worker/internal/core BudgetLedger
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=budget_journal_mock.go github.com/target/aggregation-worker/internal/core BudgetJournal
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=report_source_mock.go github.com/target/aggregation-worker/internal/core ReportSource
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_processor_mock.go github.com/target/aggregation-worker/internal/core JobProcessor

// ReaperRepository: ListOrphanedJobs, DeleteTerminalJobs, TryWithReaperLock
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/aggregation-worker/internal/core ReaperRepository
