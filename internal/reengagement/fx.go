package reengagement

import (
	"github.com/smallbiznis/botledger/internal/reengagement/domain"
	"github.com/smallbiznis/botledger/internal/reengagement/service"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"go.uber.org/fx"
)

var Module = fx.Module("reengagement.service",
	fx.Provide(service.NewService),
	fx.Invoke(RegisterHandlers),
)

func RegisterHandlers(dispatcher *taskqueue.Dispatcher, svc domain.Service) {
	dispatcher.Handle(domain.TaskSend, svc.HandleSend)
}
