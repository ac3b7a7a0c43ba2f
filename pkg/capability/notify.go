package capability

import (
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Notifier sends one-way messages to the operator. It never fails and never
// blocks on the event sink beyond the sink's own call.
type Notifier struct {
	sink      types.EventSink
	log       *logging.Logger
	adapterID string
	allowed   bool
}

// NewNotifier builds a notifier for one adapter. Without the notifications
// permission messages are only logged.
func NewNotifier(adapterID string, perms manifest.PermissionSet, sink types.EventSink, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.Nop()
	}
	return &Notifier{
		sink:      sink,
		log:       log,
		adapterID: adapterID,
		allowed:   perms.Has(manifest.PermNotifications),
	}
}

// Info sends an informational message.
func (n *Notifier) Info(message string) { n.send(types.NotifyInfo, message) }

// Warn sends a warning.
func (n *Notifier) Warn(message string) { n.send(types.NotifyWarn, message) }

// Error sends an error message. It does not fail the call.
func (n *Notifier) Error(message string) { n.send(types.NotifyError, message) }

func (n *Notifier) send(level types.NotifyLevel, message string) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Errorf("%s: notify sink panicked: %v", n.adapterID, r)
		}
	}()

	message = StripControl(message)
	if !n.allowed {
		n.log.Debugf("%s: notify without permission dropped: [%s] %s", n.adapterID, level, message)
		return
	}
	switch level {
	case types.NotifyWarn:
		n.log.Warnf("%s: %s", n.adapterID, message)
	case types.NotifyError:
		n.log.Errorf("%s: %s", n.adapterID, message)
	default:
		n.log.Infof("%s: %s", n.adapterID, message)
	}
	if n.sink != nil {
		n.sink(types.NewNotifyEvent(n.adapterID, level, message))
	}
}
