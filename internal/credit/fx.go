package credit

import (
	"github.com/smallbiznis/botledger/internal/credit/reconcile"
	"github.com/smallbiznis/botledger/internal/credit/repository"
	"github.com/smallbiznis/botledger/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

// ReconcileModule runs periodic ledger reconciliation. Only worker binaries include it.
var ReconcileModule = fx.Module("credit.reconcile",
	fx.Provide(reconcile.New),
	fx.Invoke(reconcile.Register),
)
