package eventhooks

import (
	"fmt"

	hookscommand "github.com/goliatone/go-eventhooks/command"
	hooksquery "github.com/goliatone/go-eventhooks/query"
)

// CommandQueryService is the management surface the facade wraps. *Engine
// implements it.
type CommandQueryService interface {
	hookscommand.MutatingService
	hooksquery.EndpointReader
	hooksquery.DeliveryAttemptReader
	hooksquery.NotificationReader
}

type Commands struct {
	RaiseEvent           *hookscommand.RaiseEventCommand
	RefireEvent          *hookscommand.RefireEventCommand
	IngestWebhook        *hookscommand.IngestWebhookCommand
	CreateEndpoint       *hookscommand.CreateEndpointCommand
	UpdateEndpoint       *hookscommand.UpdateEndpointCommand
	DisableEndpoint      *hookscommand.DisableEndpointCommand
	EnableEndpoint       *hookscommand.EnableEndpointCommand
	TestEndpoint         *hookscommand.TestEndpointCommand
	MarkNotificationRead *hookscommand.MarkNotificationReadCommand
	SetPreference        *hookscommand.SetPreferenceCommand
}

type Queries struct {
	ListEndpoints        *hooksquery.ListEndpointsQuery
	GetEndpoint          *hooksquery.GetEndpointQuery
	ListDeliveryAttempts *hooksquery.ListDeliveryAttemptsQuery
	ListNotifications    *hooksquery.ListNotificationsQuery
	CountUnread          *hooksquery.CountUnreadQuery
	ListPreferences      *hooksquery.ListPreferencesQuery
}

// Facade exposes the management surface as go-command commands and
// queries.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("eventhooks: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		RaiseEvent:           hookscommand.NewRaiseEventCommand(service),
		RefireEvent:          hookscommand.NewRefireEventCommand(service),
		IngestWebhook:        hookscommand.NewIngestWebhookCommand(service),
		CreateEndpoint:       hookscommand.NewCreateEndpointCommand(service),
		UpdateEndpoint:       hookscommand.NewUpdateEndpointCommand(service),
		DisableEndpoint:      hookscommand.NewDisableEndpointCommand(service),
		EnableEndpoint:       hookscommand.NewEnableEndpointCommand(service),
		TestEndpoint:         hookscommand.NewTestEndpointCommand(service),
		MarkNotificationRead: hookscommand.NewMarkNotificationReadCommand(service),
		SetPreference:        hookscommand.NewSetPreferenceCommand(service),
	}
	facade.queries = Queries{
		ListEndpoints:        hooksquery.NewListEndpointsQuery(service),
		GetEndpoint:          hooksquery.NewGetEndpointQuery(service),
		ListDeliveryAttempts: hooksquery.NewListDeliveryAttemptsQuery(service),
		ListNotifications:    hooksquery.NewListNotificationsQuery(service),
		CountUnread:          hooksquery.NewCountUnreadQuery(service),
		ListPreferences:      hooksquery.NewListPreferencesQuery(service),
	}
	return facade, nil
}

// Facade builds the command/query facade over this engine.
func (e *Engine) Facade() *Facade {
	facade, _ := NewFacade(e)
	return facade
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Engine)(nil)
