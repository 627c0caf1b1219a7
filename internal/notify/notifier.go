package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/domain"
	"carinspect/internal/events"
	"carinspect/internal/metrics"
	"carinspect/internal/models"

	"github.com/rs/zerolog"
)

const (
	TaskTypeReminder = "inspection.reminder"

	dateFormat     = "Monday, 02 Jan 2006"
	dispatchWindow = 15 * time.Second
)

var eventKinds = map[string]string{
	events.EventInspectionBooked:      KindBooked,
	events.EventInspectionConfirmed:   KindConfirmed,
	events.EventInspectionCompleted:   KindCompleted,
	events.EventInspectionRescheduled: KindRescheduled,
	events.EventInspectionCancelled:   KindCancelled,
}

// Notifier turns lifecycle events into outbox emails. Nothing it does can fail
// the transition that produced the event.
type Notifier struct {
	repo        domain.Repository
	enqueuer    domain.NotificationEnqueuer
	adminEmails []string
	clientURL   string
	logger      *zerolog.Logger
}

func New(repo domain.Repository, enqueuer domain.NotificationEnqueuer, cfg config.NotificationsConfig, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{
		repo:        repo,
		enqueuer:    enqueuer,
		adminEmails: cfg.AdminEmails,
		clientURL:   strings.TrimRight(cfg.ClientURL, "/"),
		logger:      logger,
	}
}

// Register subscribes the notifier to every inspection event.
func (n *Notifier) Register(bus *events.EventBus) {
	for _, eventType := range events.InspectionEventTypes {
		bus.Subscribe(eventType, n.HandleEvent)
	}
}

func (n *Notifier) HandleEvent(event *events.Event) error {
	kind, ok := eventKinds[event.Type]
	if !ok {
		return nil
	}
	payload, err := events.DecodeInspectionEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchWindow)
	defer cancel()

	n.Dispatch(ctx, kind, payload.Inspection, payload.Reason)
	return nil
}

type recipient struct {
	user     *models.User
	forOwner bool
}

// Dispatch enqueues the emails of one lifecycle transition.
func (n *Notifier) Dispatch(ctx context.Context, kind string, inspection *models.Inspection, reason string) int {
	log := n.logger.With().Str("inspection_id", inspection.ID).Str("kind", kind).Logger()

	customer, err := n.repo.GetUser(ctx, inspection.CustomerID)
	if err != nil {
		log.Error().Err(err).Int64("customer_id", inspection.CustomerID).Msg("notify: load customer")
		return 0
	}

	car, err := n.repo.GetCar(ctx, inspection.CarID)
	if err != nil {
		log.Warn().Err(err).Int64("car_id", inspection.CarID).Msg("notify: load car")
	}

	data := n.baseData(inspection, customer, car)
	switch kind {
	case KindCompleted:
		if inspection.Report != nil {
			data.Condition = string(inspection.Report.OverallCondition)
		}
	case KindRescheduled:
		data.Reason = reason
		if data.Reason == "" && inspection.RescheduledFrom != nil {
			data.Reason = inspection.RescheduledFrom.Reason
		}
	case KindCancelled:
		data.Reason = reason
	}

	sent := 0
	for _, r := range n.recipients(ctx, kind, customer, car) {
		d := data
		d.ForOwner = r.forOwner
		if n.send(ctx, "inspection."+kind, kind, inspection.ID, r.user, d) {
			sent++
		}
	}
	return sent
}

func (n *Notifier) recipients(ctx context.Context, kind string, customer *models.User, car *models.Car) []recipient {
	var out []recipient
	seen := make(map[string]bool)
	add := func(u *models.User, forOwner bool) {
		if u == nil || u.Email == "" {
			return
		}
		key := strings.ToLower(u.Email)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, recipient{user: u, forOwner: forOwner})
	}

	switch kind {
	case KindBooked:
		for _, a := range n.admins(ctx) {
			add(a, false)
		}
		add(n.owner(ctx, customer, car), true)
	case KindConfirmed, KindReminder:
		add(customer, false)
	case KindCompleted, KindRescheduled:
		add(customer, false)
		add(n.owner(ctx, customer, car), true)
	case KindCancelled:
		add(customer, false)
		for _, a := range n.admins(ctx) {
			add(a, false)
		}
	}
	return out
}

func (n *Notifier) admins(ctx context.Context) []*models.User {
	admins, err := n.repo.ListAdmins(ctx)
	if err != nil {
		n.logger.Error().Err(err).Msg("notify: load admins")
	}
	for _, email := range n.adminEmails {
		admins = append(admins, &models.User{Name: "Admin", Email: email, Role: models.RoleAdmin})
	}
	return admins
}

// owner returns the car owner when it is somebody other than the customer.
func (n *Notifier) owner(ctx context.Context, customer *models.User, car *models.Car) *models.User {
	if car == nil || car.OwnerID == 0 || car.OwnerID == customer.ID {
		return nil
	}
	owner, err := n.repo.GetUser(ctx, car.OwnerID)
	if err != nil {
		n.logger.Warn().Err(err).Int64("owner_id", car.OwnerID).Msg("notify: load car owner")
		return nil
	}
	return owner
}

func (n *Notifier) baseData(inspection *models.Inspection, customer *models.User, car *models.Car) emailData {
	title := car.Title()
	if title == "" {
		title = "car #" + strconv.FormatInt(inspection.CarID, 10)
	}
	d := emailData{
		CustomerName: customer.Name,
		CarTitle:     title,
		Ref:          inspection.Ref(),
		Date:         inspection.InspectionDate.Format(dateFormat),
		StartTime:    inspection.TimeSlot.StartTime,
		EndTime:      inspection.TimeSlot.EndTime,
		Period:       string(inspection.TimeSlot.Period),
	}
	if n.clientURL != "" {
		d.Link = n.clientURL + "/inspections/" + inspection.ID
	}
	return d
}

func (n *Notifier) send(ctx context.Context, taskType, kind, inspectionID string, to *models.User, d emailData) bool {
	msg, err := render(kind, to, d)
	if err != nil {
		n.logger.Error().Err(err).Str("inspection_id", inspectionID).Msg("notify: render")
		return false
	}
	if err := n.enqueuer.EnqueueEmail(ctx, taskType, inspectionID, msg); err != nil {
		metrics.IncNotification("enqueue_failed")
		n.logger.Error().Err(err).
			Str("inspection_id", inspectionID).
			Str("task_type", taskType).
			Str("recipient", to.Email).
			Msg("notify: enqueue email")
		return false
	}
	metrics.IncNotification("queued")
	return true
}

// SendReminders emails customers whose confirmed or rescheduled inspection falls on day.
func (n *Notifier) SendReminders(ctx context.Context, day time.Time) (int, error) {
	filter := models.InspectionFilter{
		Statuses:  []models.InspectionStatus{models.StatusConfirmed, models.StatusRescheduled},
		StartDate: &day,
		EndDate:   &day,
		Page:      1,
		Limit:     models.MaxPageLimit,
	}

	sent := 0
	for {
		items, total, err := n.repo.ListInspections(ctx, filter)
		if err != nil {
			return sent, fmt.Errorf("list inspections for reminders: %w", err)
		}
		for _, inspection := range items {
			sent += n.Dispatch(ctx, KindReminder, inspection, "")
		}
		if filter.Page*filter.Limit >= total || len(items) == 0 {
			break
		}
		filter.Page++
	}

	n.logger.Info().Str("date", day.Format(models.DateLayout)).Int("sent", sent).Msg("reminders queued")
	return sent, nil
}
