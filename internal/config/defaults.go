package config

const (
	defaultDataDir                = "~/.local/share/tipline"
	defaultAttachmentsDir         = "~/.local/share/tipline/attachments"
	defaultLogDir                 = "~/.local/share/tipline/logs"
	defaultAPIBind                = "127.0.0.1:8082"
	defaultNodeName               = "tipline"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultDeliveryInterval       = 5
	defaultNotificationInterval   = 10
	defaultCleaningInterval       = 3600
	defaultStatisticsInterval     = 3600
	defaultKeyCheckInterval       = 86400
	defaultDeliveryDelay          = 1
	defaultNotificationDelay      = 6
	defaultSMTPPort               = 587
	defaultNotifyRequestTimeout   = 10
	defaultSMTPFrom               = "tipline@localhost"
	defaultNotificationTipSubject = "New tip available"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:        defaultDataDir,
			AttachmentsDir: defaultAttachmentsDir,
			LogDir:         defaultLogDir,
			APIBind:        defaultAPIBind,
		},
		Node: Node{
			Name: defaultNodeName,
		},
		Scheduler: Scheduler{
			DeliveryInterval:     defaultDeliveryInterval,
			NotificationInterval: defaultNotificationInterval,
			CleaningInterval:     defaultCleaningInterval,
			StatisticsInterval:   defaultStatisticsInterval,
			KeyCheckInterval:     defaultKeyCheckInterval,
			DeliveryDelay:        defaultDeliveryDelay,
			NotificationDelay:    defaultNotificationDelay,
		},
		SMTP: SMTP{
			Port:       defaultSMTPPort,
			From:       defaultSMTPFrom,
			TipSubject: defaultNotificationTipSubject,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Errors:         true,
			KeyWarnings:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
