package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/hospital-scheduling/internal/notify"
)

// messagesFor renders the notification effects of a transition. Template
// rendering proper belongs to the delivery service; these are plain-text
// stand-ins carrying the facts it needs in Metadata.
func messagesFor(appt *Appointment, effects []Effect, channel notify.Channel, loc *time.Location) []notify.Message {
	var out []notify.Message
	for _, e := range effects {
		var recipient, role string
		switch e.Kind {
		case EffectNotifyPatient:
			recipient, role = appt.PatientID, "patient"
		case EffectNotifyPractitioner:
			recipient, role = appt.PractitionerID, "practitioner"
		default:
			continue
		}
		if recipient == "" {
			continue
		}

		subject, body := render(appt, e.Topic, role, loc)
		out = append(out, notify.Message{
			Channel:   channel,
			Recipient: recipient,
			Subject:   subject,
			Body:      body,
			Metadata: map[string]string{
				"appointment_id":  appt.ID,
				"topic":           e.Topic,
				"role":            role,
				"scheduled_at":    appt.ScheduledAt.UTC().Format(time.RFC3339),
				"practitioner_id": appt.PractitionerID,
			},
		})
	}
	return out
}

func render(appt *Appointment, topic, role string, loc *time.Location) (string, string) {
	when := appt.ScheduledAt.In(loc).Format("Mon 02 Jan 2006 15:04")

	switch topic {
	case TopicBooked:
		if role == "practitioner" {
			return "New appointment request", fmt.Sprintf("Appointment %s on %s is awaiting your confirmation.", appt.ID, when)
		}
		return "Appointment booked", fmt.Sprintf("Your appointment %s on %s has been booked and is pending confirmation.", appt.ID, when)
	case TopicConfirmed:
		return "Appointment confirmed", fmt.Sprintf("Your appointment %s on %s is confirmed.", appt.ID, when)
	case TopicCancelled:
		return "Appointment cancelled", fmt.Sprintf("Appointment %s on %s was cancelled: %s", appt.ID, when, appt.CancellationReason)
	case TopicNoShow:
		return "Missed appointment", fmt.Sprintf("You missed appointment %s on %s.", appt.ID, when)
	case TopicReassigned:
		if role == "practitioner" {
			return "Appointment reassigned to you", fmt.Sprintf("Appointment %s on %s has been reassigned to you and awaits confirmation.", appt.ID, when)
		}
		return "Appointment reassigned", fmt.Sprintf("Your appointment %s on %s has moved to another practitioner at the same time.", appt.ID, when)
	default:
		return "Appointment update", fmt.Sprintf("Appointment %s on %s was updated.", appt.ID, when)
	}
}
