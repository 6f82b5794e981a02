package session

import (
	"context"
	"fmt"
	"testing"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cucumber/godog"
)

type feedWorld struct {
	ctx   context.Context
	store *memStore
	hub   *hub
	rooms *memRooms
	users map[string]*harness
	pages map[string][]domain.MessagePage
}

func (w *feedWorld) reset() {
	w.ctx = context.Background()
	w.store = newMemStore()
	w.hub = newHub()
	w.rooms = newMemRooms()
	w.users = make(map[string]*harness)
	w.pages = make(map[string][]domain.MessagePage)
}

func (w *feedWorld) user(name string) (*harness, error) {
	if h, ok := w.users[name]; ok {
		return h, nil
	}
	h := newHarness(w.store, w.hub, w.rooms, name, ScopeUser)
	if err := h.session.Start(w.ctx); err != nil {
		return nil, err
	}
	w.users[name] = h
	return h, nil
}

func (w *feedWorld) roomHasMessages(roomID string, n int, sender string) error {
	for i := 0; i < n; i++ {
		w.store.insert(roomID, sender, gofakeit.Sentence(6), domain.KindUser)
	}
	return nil
}

func (w *feedWorld) joined(a, b, roomID string) error {
	for _, name := range []string{a, b} {
		joined, _ := w.rooms.JoinedRoomIDs(w.ctx, name)
		w.rooms.set(name, append(joined, roomID)...)
		w.store.setNickname(roomID, name, name)
	}
	return nil
}

func (w *feedWorld) opened(name, roomID string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	_, err = h.session.OpenRoom(w.ctx, roomID)
	return err
}

func (w *feedWorld) bothOpened(a, b, roomID string) error {
	if err := w.opened(a, roomID); err != nil {
		return err
	}
	return w.opened(b, roomID)
}

func (w *feedWorld) pagesThrough(name, roomID string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	for {
		page, err := h.session.LoadMore(w.ctx, roomID)
		if err != nil {
			return err
		}
		w.pages[name] = append(w.pages[name], page)
		if !page.HasMore {
			return nil
		}
	}
}

func (w *feedWorld) receivesDistinct(name string, n int) error {
	var all []domain.Message
	for _, p := range w.pages[name] {
		all = append(all, p.Messages...)
	}
	if len(all) != n {
		return fmt.Errorf("expected %d messages, got %d", n, len(all))
	}
	seen := make(map[string]struct{})
	for i, m := range all {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate message %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		if i > 0 && !m.CreatedAt.Before(all[i-1].CreatedAt) {
			return fmt.Errorf("message %d not older than previous", i)
		}
	}
	return nil
}

func (w *feedWorld) firstPage(name string, n int) error {
	pages := w.pages[name]
	if len(pages) == 0 {
		return fmt.Errorf("%s fetched nothing", name)
	}
	if len(pages[0].Messages) != n || !pages[0].HasMore || pages[0].NextCursor == nil {
		return fmt.Errorf("first page has %d messages, has_more=%v", len(pages[0].Messages), pages[0].HasMore)
	}
	return nil
}

func (w *feedWorld) sends(name, roomID string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	_, err = h.session.SendMessage(w.ctx, roomID, gofakeit.Sentence(4))
	return err
}

func (w *feedWorld) newestFrom(name, roomID, sender string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	feed := h.session.Feed(w.ctx, roomID)
	if len(feed) == 0 {
		return fmt.Errorf("feed of %s is empty", name)
	}
	if feed[0].SenderID != sender || feed[0].Nickname != sender {
		return fmt.Errorf("newest message from %s (%s)", feed[0].SenderID, feed[0].Nickname)
	}
	return nil
}

func (w *feedWorld) hasUnread(name string, n int, roomID string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	got, err := h.session.UnreadCount(w.ctx, roomID)
	if err != nil {
		return err
	}
	if got != n {
		return fmt.Errorf("expected %d unread, got %d", n, got)
	}
	return nil
}

func (w *feedWorld) markerIsNewest(name, roomID string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	feed := h.session.Feed(w.ctx, roomID)
	if len(feed) == 0 {
		return fmt.Errorf("feed of %s is empty", name)
	}
	marker := h.session.ReadMarker(w.ctx, roomID)
	if marker == nil || marker.LastReadMessageID != feed[0].ID {
		return fmt.Errorf("read marker %+v, newest %s", marker, feed[0].ID)
	}
	return nil
}

func (w *feedWorld) marksRead(name, roomID string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	_, err = h.session.MarkRead(w.ctx, roomID)
	return err
}

func (w *feedWorld) lostConnection(name string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	for _, channel := range h.session.Channels() {
		if c := h.transport.channel(channel); c != nil {
			c.drop(errBoom)
		}
	}
	return nil
}

func (w *feedWorld) reconnects(name string) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	return h.session.Reconnect(w.ctx)
}

func (w *feedWorld) feedHas(name, roomID string, n int) error {
	h, err := w.user(name)
	if err != nil {
		return err
	}
	if got := len(h.session.Feed(w.ctx, roomID)); got != n {
		return fmt.Errorf("expected %d messages, got %d", n, got)
	}
	return nil
}

func initializeFeedScenario(sc *godog.ScenarioContext) {
	w := &feedWorld{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		w.reset()
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		for _, h := range w.users {
			h.session.Stop()
		}
		return ctx, err
	})

	sc.Step(`^room "([^"]*)" has (\d+) messages from "([^"]*)"$`, w.roomHasMessages)
	sc.Step(`^"([^"]*)" pages through room "([^"]*)"$`, w.pagesThrough)
	sc.Step(`^"([^"]*)" receives (\d+) distinct messages newest first$`, w.receivesDistinct)
	sc.Step(`^the first page of "([^"]*)" has (\d+) messages and more pages$`, w.firstPage)
	sc.Step(`^"([^"]*)" and "([^"]*)" joined room "([^"]*)"$`, w.joined)
	sc.Step(`^"([^"]*)" and "([^"]*)" opened room "([^"]*)"$`, w.bothOpened)
	sc.Step(`^"([^"]*)" opened room "([^"]*)"$`, w.opened)
	sc.Step(`^"([^"]*)" sends a message to room "([^"]*)"$`, w.sends)
	sc.Step(`^the newest message in the feed of "([^"]*)" for room "([^"]*)" is from "([^"]*)"$`, w.newestFrom)
	sc.Step(`^"([^"]*)" has (\d+) unread messages in room "([^"]*)"$`, w.hasUnread)
	sc.Step(`^the read marker of "([^"]*)" for room "([^"]*)" is the newest message$`, w.markerIsNewest)
	sc.Step(`^"([^"]*)" marks room "([^"]*)" read$`, w.marksRead)
	sc.Step(`^"([^"]*)" lost the connection$`, w.lostConnection)
	sc.Step(`^"([^"]*)" reconnects$`, w.reconnects)
	sc.Step(`^the feed of "([^"]*)" for room "([^"]*)" has (\d+) messages$`, w.feedHas)
}

func TestFeedFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "feed",
		ScenarioInitializer: initializeFeedScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
