package constant

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"

	SignalQueueName  = "signal_queue"
	SignalQueueGroup = "signal_group"

	SignalStreamName           = "signal"
	SignalStreamSubjectAll     = "signal.*"
	SignalStreamSubjectProcess = "signal.process"
)
