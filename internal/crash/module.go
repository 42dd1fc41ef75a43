package crash

import "go.uber.org/fx"

var Module = fx.Options(
	fx.Provide(
		NewRecorder,
		NewCrashManager,
		NewMonitor,
		fx.Annotate(NewDBSink, fx.As(new(Sink)), fx.ResultTags(`group:"crash_sinks"`)),
		fx.Annotate(NewRedisSink, fx.As(new(Sink)), fx.ResultTags(`group:"crash_sinks"`)),
		fx.Annotate(NewMQSink, fx.As(new(Sink)), fx.ResultTags(`group:"crash_sinks"`)),
	),
)
