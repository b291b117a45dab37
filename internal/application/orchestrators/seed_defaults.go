package orchestrators

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"assocmail/internal/domain/automation"
	"assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
)

// TemplateStoreForSeed defines the template writes needed by SeedDefaults.
type TemplateStoreForSeed interface {
	Save(ctx context.Context, t email.Template) (int64, error)
	Count(ctx context.Context) (int, error)
}

// RuleStoreForSeed defines the rule writes needed by SeedDefaults.
type RuleStoreForSeed interface {
	Save(ctx context.Context, r automation.Rule) (int64, error)
	Count(ctx context.Context) (int, error)
}

// SeedDefaultsDeps holds dependencies for SeedDefaults.
type SeedDefaultsDeps struct {
	TemplateStore TemplateStoreForSeed
	RuleStore     RuleStoreForSeed
	Now           func() time.Time
}

// SeedResult reports what was installed.
type SeedResult struct {
	Templates int
	Rules     int
}

type defaultTemplate struct {
	trigger automation.TriggerType
	name    string
	content map[locale.Locale]email.Content
}

// defaultTemplates is one template per trigger, keyed by the trigger name.
var defaultTemplates = []defaultTemplate{
	{automation.TriggerMemberRegistered, "Registration received", map[locale.Locale]email.Content{
		locale.English: {Subject: "We received your application, {{first_name}}", Body: "Hello {{first_name}},\n\nThank you for applying for a **{{membership_type}}** membership. We will review it shortly."},
		locale.Spanish: {Subject: "Hemos recibido tu solicitud, {{first_name}}", Body: "Hola {{first_name}}:\n\nGracias por solicitar la membresía **{{membership_type}}**. La revisaremos en breve."},
		locale.Catalan: {Subject: "Hem rebut la teva sol·licitud, {{first_name}}", Body: "Hola {{first_name}}:\n\nGràcies per sol·licitar la quota **{{membership_type}}**. La revisarem aviat."},
	}},
	{automation.TriggerMemberApproved, "Welcome", map[locale.Locale]email.Content{
		locale.English: {Subject: "Welcome to the association, {{first_name}}!", Body: "Hello {{full_name}},\n\nYour **{{membership_type}}** membership is active until {{membership_end_date}}."},
		locale.Spanish: {Subject: "¡Bienvenido/a a la asociación, {{first_name}}!", Body: "Hola {{full_name}}:\n\nTu membresía **{{membership_type}}** está activa hasta el {{membership_end_date}}."},
		locale.Catalan: {Subject: "Benvingut/da a l'associació, {{first_name}}!", Body: "Hola {{full_name}}:\n\nLa teva quota **{{membership_type}}** és activa fins al {{membership_end_date}}."},
	}},
	{automation.TriggerMemberRejected, "Application declined", map[locale.Locale]email.Content{
		locale.English: {Subject: "About your membership application", Body: "Hello {{first_name}},\n\nUnfortunately we cannot accept your application at this time."},
		locale.Spanish: {Subject: "Sobre tu solicitud de membresía", Body: "Hola {{first_name}}:\n\nLamentablemente no podemos aceptar tu solicitud en este momento."},
		locale.Catalan: {Subject: "Sobre la teva sol·licitud", Body: "Hola {{first_name}}:\n\nMalauradament no podem acceptar la teva sol·licitud ara mateix."},
	}},
	{automation.TriggerMembershipRenewed, "Renewal confirmed", map[locale.Locale]email.Content{
		locale.English: {Subject: "Your membership has been renewed", Body: "Hello {{first_name}},\n\nThank you for renewing. Your membership now runs until {{membership_end_date}}."},
		locale.Spanish: {Subject: "Tu membresía se ha renovado", Body: "Hola {{first_name}}:\n\nGracias por renovar. Tu membresía es válida hasta el {{membership_end_date}}."},
		locale.Catalan: {Subject: "La teva quota s'ha renovat", Body: "Hola {{first_name}}:\n\nGràcies per renovar. La quota és vàlida fins al {{membership_end_date}}."},
	}},
	{automation.TriggerPaymentReceived, "Payment received", map[locale.Locale]email.Content{
		locale.English: {Subject: "Payment received: €{{payment_amount}}", Body: "Hello {{first_name}},\n\nWe received your payment of €{{payment_amount}} on {{current_date}}. Reference {{receipt_number}}."},
		locale.Spanish: {Subject: "Pago recibido: {{payment_amount}} €", Body: "Hola {{first_name}}:\n\nHemos recibido tu pago de {{payment_amount}} € el {{current_date}}. Referencia {{receipt_number}}."},
		locale.Catalan: {Subject: "Pagament rebut: {{payment_amount}} €", Body: "Hola {{first_name}}:\n\nHem rebut el teu pagament de {{payment_amount}} € el {{current_date}}. Referència {{receipt_number}}."},
	}},
	{automation.TriggerSponsorTaxReceipt, "Sponsor tax receipt", map[locale.Locale]email.Content{
		locale.English: {Subject: "Your donation receipt {{receipt_number}}", Body: "Dear {{full_name}},\n\nThank you for your donation of €{{payment_amount}}.\n\n{{tax_deduction_info}}\n\n{{recurring_bonus_info}}\n\nDeduction: €{{tax_deduction}} ({{discount_percent}}%). Net cost: €{{net_cost}}.\n\n{{tax_receipt_notice}}"},
		locale.Spanish: {Subject: "Tu recibo de donación {{receipt_number}}", Body: "Estimado/a {{full_name}}:\n\nGracias por tu donación de {{payment_amount}} €.\n\n{{tax_deduction_info}}\n\n{{recurring_bonus_info}}\n\nDeducción: {{tax_deduction}} € ({{discount_percent}} %). Coste neto: {{net_cost}} €.\n\n{{tax_receipt_notice}}"},
		locale.Catalan: {Subject: "El teu rebut de donació {{receipt_number}}", Body: "Benvolgut/da {{full_name}}:\n\nGràcies per la teva donació de {{payment_amount}} €.\n\n{{tax_deduction_info}}\n\n{{recurring_bonus_info}}\n\nDeducció: {{tax_deduction}} € ({{discount_percent}} %). Cost net: {{net_cost}} €.\n\n{{tax_receipt_notice}}"},
	}},
	{automation.TriggerMembershipExpiring7, "Expiring in 7 days", expiringContent(7)},
	{automation.TriggerMembershipExpiring3, "Expiring in 3 days", expiringContent(3)},
	{automation.TriggerMembershipExpiring1, "Expiring tomorrow", expiringContent(1)},
	{automation.TriggerMembershipExpired, "Membership expired", map[locale.Locale]email.Content{
		locale.English: {Subject: "Your membership has expired", Body: "Hello {{first_name}},\n\nYour membership ended on {{membership_end_date}}. Renew any time to keep supporting us."},
		locale.Spanish: {Subject: "Tu membresía ha caducado", Body: "Hola {{first_name}}:\n\nTu membresía terminó el {{membership_end_date}}. Puedes renovarla cuando quieras."},
		locale.Catalan: {Subject: "La teva quota ha caducat", Body: "Hola {{first_name}}:\n\nLa teva quota va acabar el {{membership_end_date}}. Pots renovar-la quan vulguis."},
	}},
}

func expiringContent(days int) map[locale.Locale]email.Content {
	return map[locale.Locale]email.Content{
		locale.English: {
			Subject: fmt.Sprintf("Your membership expires in %d day(s)", days),
			Body:    "Hello {{first_name}},\n\nYour **{{membership_type}}** membership ends on {{membership_end_date}}. Renew now to avoid interruption.",
		},
		locale.Spanish: {
			Subject: fmt.Sprintf("Tu membresía caduca en %d día(s)", days),
			Body:    "Hola {{first_name}}:\n\nTu membresía **{{membership_type}}** termina el {{membership_end_date}}. Renuévala para no perder tus ventajas.",
		},
		locale.Catalan: {
			Subject: fmt.Sprintf("La teva quota caduca d'aquí a %d dia(es)", days),
			Body:    "Hola {{first_name}}:\n\nLa teva quota **{{membership_type}}** acaba el {{membership_end_date}}. Renova-la per no perdre els avantatges.",
		},
	}
}

// ExecuteSeedDefaults installs the default templates and one immediate rule
// per event-driven trigger. Each half is skipped when its table already has
// rows, so admin edits are never overwritten.
// PRE: schema is migrated
// POST: Returns what was installed; zero counts mean nothing changed
func ExecuteSeedDefaults(ctx context.Context, deps SeedDefaultsDeps) (SeedResult, error) {
	var result SeedResult

	nTemplates, err := deps.TemplateStore.Count(ctx)
	if err != nil {
		return result, err
	}
	if nTemplates == 0 {
		now := deps.Now()
		for _, d := range defaultTemplates {
			t := email.Template{Key: d.trigger.TemplateKey(), Name: d.name, Active: true, UpdatedAt: now}
			for _, l := range locale.All {
				c := d.content[l]
				t.SetContent(l, c.Subject, c.Body)
			}
			if err := t.Validate(); err != nil {
				return result, err
			}
			if _, err := deps.TemplateStore.Save(ctx, t); err != nil {
				return result, err
			}
			result.Templates++
		}
	}

	nRules, err := deps.RuleStore.Count(ctx)
	if err != nil {
		return result, err
	}
	if nRules == 0 {
		for _, trigger := range automation.AllTriggers {
			if trigger.IsReminder() {
				continue
			}
			r := automation.Rule{Trigger: trigger, TemplateKey: trigger.TemplateKey(), Active: true}
			if err := r.Validate(); err != nil {
				return result, err
			}
			if _, err := deps.RuleStore.Save(ctx, r); err != nil {
				return result, err
			}
			result.Rules++
		}
	}

	if result.Templates > 0 || result.Rules > 0 {
		zap.L().Info("defaults_seeded", zap.Int("templates", result.Templates), zap.Int("rules", result.Rules))
	}
	return result, nil
}
