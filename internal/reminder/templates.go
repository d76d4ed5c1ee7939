// internal/reminder/templates.go
package reminder

import (
	"bytes"
	"text/template"

	"corretor-hub/internal/models"
)

// templateData feeds the reminder message templates.
type templateData struct {
	LeadName        string
	PropertyTitle   string
	PropertyAddress string
	AppointmentDate string
	AppointmentTime string
}

var reminder24h = template.Must(template.New("h24").Parse(`Olá {{.LeadName}}! 👋

Lembramos que você tem uma visita agendada amanhã:

📍 *Imóvel*: {{.PropertyTitle}}
📅 *Data*: {{.AppointmentDate}}
🕐 *Horário*: {{.AppointmentTime}}
📍 *Endereço*: {{.PropertyAddress}}

Confirme sua presença respondendo:
✅ *SIM* - Confirmo minha presença
❌ *NÃO* - Preciso cancelar/remarcar

Aguardamos você! 🏠`))

var reminder3h = template.Must(template.New("h3").Parse(`Olá {{.LeadName}}! 👋

Sua visita está próxima! ⏰

📍 *Imóvel*: {{.PropertyTitle}}
🕐 *Horário*: {{.AppointmentTime}} (em 3 horas)
📍 *Endereço*: {{.PropertyAddress}}

Estamos te esperando!

Se precisar cancelar ou remarcar, responda esta mensagem.`))

// RenderReminder builds the outbound reminder text for a job kind.
func RenderReminder(kind models.ReminderKind, lead *models.Lead, prop *models.Property, slot models.TimeSlot) (string, error) {
	data := templateData{
		LeadName:        leadDisplayName(lead),
		PropertyTitle:   "visita ao escritório",
		AppointmentDate: slot.Start.Format("02/01/2006"),
		AppointmentTime: slot.Start.Format("15:04"),
	}
	if prop != nil {
		data.PropertyTitle = prop.Title
		data.PropertyAddress = prop.Address
	}

	tmpl := reminder24h
	if kind == models.ReminderH3 {
		tmpl = reminder3h
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func leadDisplayName(lead *models.Lead) string {
	if lead != nil && lead.Name != "" {
		return lead.Name
	}
	return "tudo bem"
}
