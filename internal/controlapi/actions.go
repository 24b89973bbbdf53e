package controlapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odac-run/odac/internal/apps"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/model"
)

// ProgressFunc streams an optional progress frame back to the caller
// before the final response. Handlers for long-running actions (git
// clone/build, ACME issuance) call it zero or more times.
type ProgressFunc func(process, status, message string)

// ActionFunc implements one entry of the closed action table. A returned
// error produces {result:false, message:err.Error()}; otherwise
// {result:true, message:message}.
type ActionFunc func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (message string, err error)

// AppComponent is the subset of the App Supervisor the Control API drives.
type AppComponent interface {
	CreateContainerApp(ctx context.Context, name, image string, ports []model.PortMapping, volumes []model.VolumeMapping, env model.AppEnv, api *model.APICapabilities) (model.App, error)
	CreateFromGit(ctx context.Context, name string, spec apps.GitSpec) (model.App, error)
	StopApp(ctx context.Context, name string) error
	DeleteApp(ctx context.Context, name string) error
	RestartApp(ctx context.Context, name, reason string) error
	Redeploy(ctx context.Context, name string, spec apps.GitSpec) error
}

// DomainComponent is the subset of the Domain Manager the Control API drives.
type DomainComponent interface {
	Add(ctx context.Context, domain, appID string) (model.Domain, error)
	Delete(ctx context.Context, domain string) error
}

// SSLComponent is the subset of the SSL Engine the Control API drives.
type SSLComponent interface {
	RequestRenewal(ctx context.Context, domain string)
}

// MailComponent is the subset of the Mail manager the Control API drives.
type MailComponent interface {
	Create(address, password string) (model.MailAccount, error)
	Delete(address string) error
	List() []model.MailAccount
	SetPassword(address, password string) error
	Send(ctx context.Context, from, to, subject, body string) error
}

// WebComponent is the subset of third-party managed service bookkeeping
// the Control API drives; configstore.ServicesAccessor already implements
// this set directly.
type WebComponent interface {
	List() []model.Service
	Put(svc model.Service)
	Delete(name string) bool
}

// Stopper triggers a graceful shutdown of the whole process, wired to the
// Service Orchestrator by the caller.
type Stopper interface {
	Stop()
}

// Updater triggers a self-update check, wired to the Service Orchestrator.
type Updater interface {
	TriggerUpdate(ctx context.Context) error
}

// Webhook is the subset of the inbound deploy webhook handler the Control
// API drives (see internal/webhook).
type Webhook interface {
	HandlePush(ctx context.Context, provider string, payload json.RawMessage) (string, error)
}

// Deps bundles every component the action table dispatches to. A nil
// field is permitted; actions routed to it return a descriptive error
// rather than panicking.
type Deps struct {
	Store   *configstore.Store
	Apps    AppComponent
	Domains DomainComponent
	SSL     SSLComponent
	Mail    MailComponent
	Web     WebComponent
	Stop    Stopper
	Update  Updater
	Webhook Webhook
}

func arg(data []json.RawMessage, i int, out any) error {
	if i >= len(data) {
		return fmt.Errorf("missing argument %d", i)
	}
	return json.Unmarshal(data[i], out)
}

// buildRegistry constructs the closed action table. The set of keys is
// exactly spec.md §4.2's action registry plus the app.webhook supplement.
func buildRegistry(d Deps) map[string]ActionFunc {
	reg := map[string]ActionFunc{
		"auth": func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
			// Authentication itself already happened in the dispatch layer
			// before an action handler runs; reaching here means the
			// presented credential was valid.
			return "ok", nil
		},
		"update": func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
			if d.Update == nil {
				return "", fmt.Errorf("updates are not supported on this installation")
			}
			progress("update", "progress", "checking for update")
			if err := d.Update.TriggerUpdate(ctx); err != nil {
				return "", err
			}
			return "update triggered", nil
		},
		"server.stop": func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
			if d.Stop == nil {
				return "", fmt.Errorf("stop is not wired")
			}
			d.Stop.Stop()
			return "stopping", nil
		},

		"app.create":   actionAppCreate(d),
		"app.start":    actionAppStart(d),
		"app.delete":   actionAppDelete(d),
		"app.restart":  actionAppRestart(d),
		"app.list":     actionAppList(d),
		"app.redeploy": actionAppRedeploy(d),
		"app.webhook":  actionAppWebhook(d),

		"domain.add":    actionDomainAdd(d),
		"domain.delete": actionDomainDelete(d),
		"domain.list":   actionDomainList(d),

		"subdomain.create": actionDomainAdd(d),
		"subdomain.delete": actionDomainDelete(d),
		"subdomain.list":   actionSubdomainList(d),

		"mail.create":   actionMailCreate(d),
		"mail.delete":   actionMailDelete(d),
		"mail.list":     actionMailList(d),
		"mail.password": actionMailPassword(d),
		"mail.send":     actionMailSend(d),

		"ssl.renew": actionSSLRenew(d),

		"web.create": actionWebCreate(d),
		"web.delete": actionWebDelete(d),
		"web.list":   actionWebList(d),
	}
	return reg
}

type appCreatePayload struct {
	Name    string                 `json:"name"`
	Type    string                 `json:"type"` // "container" | "git"
	Image   string                 `json:"image,omitempty"`
	Git     *apps.GitSpec          `json:"git,omitempty"`
	Ports   []model.PortMapping    `json:"ports,omitempty"`
	Volumes []model.VolumeMapping  `json:"volumes,omitempty"`
	Env     model.AppEnv           `json:"env,omitempty"`
	API     *model.APICapabilities `json:"api,omitempty"`
}

func actionAppCreate(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Apps == nil {
			return "", fmt.Errorf("app component not wired")
		}
		var p appCreatePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if p.Type == "git" {
			if p.Git == nil {
				return "", fmt.Errorf("git app requires a git spec")
			}
			progress("app.create", "progress", "cloning "+p.Git.Repo)
			app, err := d.Apps.CreateFromGit(ctx, p.Name, *p.Git)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created %s", app.Name), nil
		}
		app, err := d.Apps.CreateContainerApp(ctx, p.Name, p.Image, p.Ports, p.Volumes, p.Env, p.API)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("created %s", app.Name), nil
	}
}

type appNamePayload struct {
	Name string `json:"name"`
}

func actionAppStart(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Apps == nil {
			return "", fmt.Errorf("app component not wired")
		}
		var p appNamePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Apps.RestartApp(ctx, p.Name, "api_start"); err != nil {
			return "", err
		}
		return fmt.Sprintf("started %s", p.Name), nil
	}
}

func actionAppDelete(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Apps == nil {
			return "", fmt.Errorf("app component not wired")
		}
		var p appNamePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Apps.DeleteApp(ctx, p.Name); err != nil {
			return "", err
		}
		// Domain cascade (spec.md invariant 2) runs off the app_deleted
		// event the orchestrator wires domains.Manager.DeleteByApp to,
		// not a direct call from here.
		return fmt.Sprintf("deleted %s", p.Name), nil
	}
}

func actionAppRestart(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Apps == nil {
			return "", fmt.Errorf("app component not wired")
		}
		var p appNamePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Apps.RestartApp(ctx, p.Name, "api_restart"); err != nil {
			return "", err
		}
		return fmt.Sprintf("restarted %s", p.Name), nil
	}
}

func actionAppList(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Store == nil {
			return "", fmt.Errorf("store not wired")
		}
		b, err := json.Marshal(d.Store.Apps().List())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

type appRedeployPayload struct {
	Name string       `json:"name"`
	Git  apps.GitSpec `json:"git"`
}

func actionAppRedeploy(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Apps == nil {
			return "", fmt.Errorf("app component not wired")
		}
		var p appRedeployPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		progress("app.redeploy", "progress", "redeploying "+p.Name)
		if err := d.Apps.Redeploy(ctx, p.Name, p.Git); err != nil {
			return "", err
		}
		return fmt.Sprintf("redeployed %s", p.Name), nil
	}
}

func actionAppWebhook(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Webhook == nil {
			return "", fmt.Errorf("webhook handler not wired")
		}
		var p struct {
			Provider string          `json:"provider"`
			Payload  json.RawMessage `json:"payload"`
		}
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		name, err := d.Webhook.HandlePush(ctx, p.Provider, p.Payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("redeploy triggered for %s", name), nil
	}
}

type domainAddPayload struct {
	Domain string `json:"domain"`
	AppID  string `json:"appId"`
}

func actionDomainAdd(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Domains == nil {
			return "", fmt.Errorf("domain component not wired")
		}
		var p domainAddPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		dom, err := d.Domains.Add(ctx, p.Domain, p.AppID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("added %s", dom.FQDN), nil
	}
}

type domainPayload struct {
	Domain string `json:"domain"`
}

func actionDomainDelete(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Domains == nil {
			return "", fmt.Errorf("domain component not wired")
		}
		var p domainPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Domains.Delete(ctx, p.Domain); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %s", p.Domain), nil
	}
}

func actionDomainList(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Store == nil {
			return "", fmt.Errorf("store not wired")
		}
		b, err := json.Marshal(d.Store.Domains().List())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func actionSubdomainList(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Store == nil {
			return "", fmt.Errorf("store not wired")
		}
		var p domainPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		dom, ok := d.Store.Domains().Get(p.Domain)
		if !ok {
			return "", fmt.Errorf("domain %q not found", p.Domain)
		}
		b, err := json.Marshal(dom.Subdomain)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

type mailCreatePayload struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

func actionMailCreate(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Mail == nil {
			return "", fmt.Errorf("mail component not wired")
		}
		var p mailCreatePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		acc, err := d.Mail.Create(p.Address, p.Password)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("created %s", acc.Address), nil
	}
}

type mailAddressPayload struct {
	Address string `json:"address"`
}

func actionMailDelete(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Mail == nil {
			return "", fmt.Errorf("mail component not wired")
		}
		var p mailAddressPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Mail.Delete(p.Address); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %s", p.Address), nil
	}
}

func actionMailList(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Mail == nil {
			return "", fmt.Errorf("mail component not wired")
		}
		b, err := json.Marshal(d.Mail.List())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func actionMailPassword(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Mail == nil {
			return "", fmt.Errorf("mail component not wired")
		}
		var p mailCreatePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Mail.SetPassword(p.Address, p.Password); err != nil {
			return "", err
		}
		return fmt.Sprintf("password updated for %s", p.Address), nil
	}
}

type mailSendPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func actionMailSend(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Mail == nil {
			return "", fmt.Errorf("mail component not wired")
		}
		var p mailSendPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if err := d.Mail.Send(ctx, p.From, p.To, p.Subject, p.Body); err != nil {
			return "", err
		}
		return "sent", nil
	}
}

func actionSSLRenew(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.SSL == nil {
			return "", fmt.Errorf("ssl component not wired")
		}
		var p domainPayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		progress("ssl.renew", "progress", "requesting renewal for "+p.Domain)
		d.SSL.RequestRenewal(ctx, p.Domain)
		return fmt.Sprintf("renewal requested for %s", p.Domain), nil
	}
}

func actionWebCreate(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Web == nil {
			return "", fmt.Errorf("web component not wired")
		}
		var svc model.Service
		if err := arg(data, 0, &svc); err != nil {
			return "", err
		}
		d.Web.Put(svc)
		return fmt.Sprintf("created %s", svc.Name), nil
	}
}

func actionWebDelete(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Web == nil {
			return "", fmt.Errorf("web component not wired")
		}
		var p appNamePayload
		if err := arg(data, 0, &p); err != nil {
			return "", err
		}
		if !d.Web.Delete(p.Name) {
			return "", fmt.Errorf("service %q not found", p.Name)
		}
		return fmt.Sprintf("deleted %s", p.Name), nil
	}
}

func actionWebList(d Deps) ActionFunc {
	return func(ctx context.Context, data []json.RawMessage, progress ProgressFunc) (string, error) {
		if d.Web == nil {
			return "", fmt.Errorf("web component not wired")
		}
		b, err := json.Marshal(d.Web.List())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
