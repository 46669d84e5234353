package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RaiseEventMessage]           = (*RaiseEventCommand)(nil)
	_ gocmd.Commander[RefireEventMessage]          = (*RefireEventCommand)(nil)
	_ gocmd.Commander[IngestWebhookMessage]        = (*IngestWebhookCommand)(nil)
	_ gocmd.Commander[CreateEndpointMessage]       = (*CreateEndpointCommand)(nil)
	_ gocmd.Commander[UpdateEndpointMessage]       = (*UpdateEndpointCommand)(nil)
	_ gocmd.Commander[DisableEndpointMessage]      = (*DisableEndpointCommand)(nil)
	_ gocmd.Commander[EnableEndpointMessage]       = (*EnableEndpointCommand)(nil)
	_ gocmd.Commander[TestEndpointMessage]         = (*TestEndpointCommand)(nil)
	_ gocmd.Commander[MarkNotificationReadMessage] = (*MarkNotificationReadCommand)(nil)
	_ gocmd.Commander[SetPreferenceMessage]        = (*SetPreferenceCommand)(nil)
)
