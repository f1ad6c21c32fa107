package notification

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// fakeRepo is the in-memory Repository used across the package tests. It
// mirrors the conditional-update semantics of the postgres implementation.
type fakeRepo struct {
	mu            sync.Mutex
	prefs         map[string]*Preference
	templates     map[string]*Template
	notifications map[string]*Notification
	batches       map[string]*Batch
	logs          []*LogEntry
	seq           int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		prefs:         make(map[string]*Preference),
		templates:     make(map[string]*Template),
		notifications: make(map[string]*Notification),
		batches:       make(map[string]*Batch),
	}
}

func copyNotification(n *Notification) *Notification {
	cp := *n
	if n.Metadata != nil {
		cp.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *fakeRepo) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pref, ok := r.prefs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pref
	return &cp, nil
}

func (r *fakeRepo) UpsertPreference(ctx context.Context, pref *Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pref
	r.prefs[pref.UserID] = &cp
	return nil
}

func (r *fakeRepo) CreateTemplate(ctx context.Context, tpl *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tpl.Name]; exists {
		return ErrTemplateExists
	}
	cp := *tpl
	r.templates[tpl.Name] = &cp
	return nil
}

func (r *fakeRepo) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[name]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (r *fakeRepo) GetActiveTemplate(ctx context.Context, name string) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[name]
	if !ok || !tpl.Active {
		return nil, ErrTemplateNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (r *fakeRepo) UpdateTemplate(ctx context.Context, tpl *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.templates[tpl.Name]
	if !ok {
		return ErrTemplateNotFound
	}
	cp := *tpl
	cp.Category = existing.Category
	r.templates[tpl.Name] = &cp
	return nil
}

func (r *fakeRepo) ListTemplates(ctx context.Context, category *Category) ([]*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Template
	for _, tpl := range r.templates {
		if category != nil && tpl.Category != *category {
			continue
		}
		cp := *tpl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeRepo) CreateNotification(ctx context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == "" {
		r.seq++
		n.ID = "n-" + strconv.Itoa(r.seq)
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	r.notifications[n.ID] = copyNotification(n)
	return nil
}

func (r *fakeRepo) GetNotification(ctx context.Context, id string) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNotification(n), nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, n *Notification, prev Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.notifications[n.ID]
	if !ok || stored.Status != prev {
		return false, nil
	}
	stored.Status = n.Status
	stored.Attempts = n.Attempts
	stored.NextAttemptAt = n.NextAttemptAt
	stored.SentAt = n.SentAt
	stored.DeliveredAt = n.DeliveredAt
	stored.ReadAt = n.ReadAt
	return true, nil
}

func (r *fakeRepo) ListByRecipient(ctx context.Context, recipientID string, f FeedFilter) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for _, n := range r.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.Category != nil && n.Category != *f.Category {
			continue
		}
		if f.UnreadOnly && n.Status == StatusRead {
			continue
		}
		out = append(out, copyNotification(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notifications {
		if n.RecipientID == recipientID && n.Channel == ChannelInApp && n.Status != StatusRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, n := range r.notifications {
		if n.Status != StatusPending {
			continue
		}
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			continue
		}
		due := false
		if n.NextAttemptAt != nil {
			due = !n.NextAttemptAt.After(now)
		} else if n.ScheduledFor != nil {
			due = !n.ScheduledFor.After(now)
		}
		if due {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeRepo) CreateBatch(ctx context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		r.seq++
		b.ID = "b-" + strconv.Itoa(r.seq)
	}
	if b.Status == "" {
		b.Status = BatchDraft
	}
	b.CreatedAt = time.Now()
	cp := *b
	r.batches[b.ID] = &cp
	return nil
}

func (r *fakeRepo) GetBatch(ctx context.Context, id string) (*Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) UpdateBatch(ctx context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.ID]; !ok {
		return ErrBatchNotFound
	}
	cp := *b
	r.batches[b.ID] = &cp
	return nil
}

func (r *fakeRepo) ListBatchNotificationIDs(ctx context.Context, batchID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, n := range r.notifications {
		if n.BatchID != nil && *n.BatchID == batchID {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeRepo) CountBatchStatuses(ctx context.Context, batchID string) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Status]int)
	for _, n := range r.notifications {
		if n.BatchID != nil && *n.BatchID == batchID {
			counts[n.Status]++
		}
	}
	return counts, nil
}

func (r *fakeRepo) AppendLog(ctx context.Context, entry *LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		r.seq++
		entry.ID = "l-" + strconv.Itoa(r.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	cp := *entry
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *fakeRepo) ListLogs(ctx context.Context, notificationID string) ([]*LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*LogEntry
	for _, e := range r.logs {
		if e.NotificationID == notificationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(Repository) error) error {
	return fn(r)
}

// logActions returns every recorded action for one record, oldest first.
func (r *fakeRepo) logActions(notificationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var actions []string
	for _, e := range r.logs {
		if e.NotificationID == notificationID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}
