package ws

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(userID, role string, rooms ...string) *Client {
	return &Client{
		UserID: userID,
		Role:   role,
		Rooms:  rooms,
		Send:   make(chan []byte, 256),
	}
}

func TestHub_RegisterAndRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("patient-1", "patient", PersonalRoom("patient-1"))

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.RoomCount(PersonalRoom("patient-1")) != 1 {
		t.Fatalf("expected 1 member in personal room, got %d", hub.RoomCount(PersonalRoom("patient-1")))
	}
	if !hub.IsOnline("patient-1") {
		t.Fatal("expected patient-1 to be online")
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("ph-1", "pharmacy", PersonalRoom("ph-1"), RoomAllPharmacies)

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.RoomCount(RoomAllPharmacies) != 0 {
		t.Fatalf("expected empty pharmacy room, got %d", hub.RoomCount(RoomAllPharmacies))
	}
	if hub.IsOnline("ph-1") {
		t.Fatal("expected ph-1 to be offline")
	}
}

func TestHub_NewestConnectionWins(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	first := newTestClient("ph-1", "pharmacy", PersonalRoom("ph-1"))
	second := newTestClient("ph-1", "pharmacy", PersonalRoom("ph-1"))

	hub.Register(first)
	hub.Register(second)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client after reconnect, got %d", hub.ClientCount())
	}

	// The first client's channel must be closed.
	if _, open := <-first.Send; open {
		t.Fatal("expected first connection's send channel to be closed")
	}

	hub.SendToUser("ph-1", []byte("hello"))
	select {
	case msg := <-second.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message %q", msg)
		}
	default:
		t.Fatal("second connection did not receive message")
	}
}

func TestHub_BroadcastTargetsRoomOnly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	inCell := newTestClient("ph-1", "pharmacy", PersonalRoom("ph-1"), "cell:615:1531")
	outOfCell := newTestClient("ph-2", "pharmacy", PersonalRoom("ph-2"), "cell:700:1000")

	hub.Register(inCell)
	hub.Register(outOfCell)

	hub.Broadcast("cell:615:1531", []byte("new request"))

	select {
	case <-inCell.Send:
	default:
		t.Fatal("in-cell pharmacy did not receive broadcast")
	}
	select {
	case <-outOfCell.Send:
		t.Fatal("out-of-cell pharmacy should not receive broadcast")
	default:
	}
}

func TestHub_SendToOfflineUserIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	// Must not panic or block.
	hub.SendToUser("nobody", []byte("dropped"))
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{
		UserID: "ph-1",
		Role:   "pharmacy",
		Rooms:  []string{PersonalRoom("ph-1")},
		Send:   make(chan []byte, 1),
	}
	hub.Register(client)

	hub.SendToUser("ph-1", []byte("one"))
	// Buffer is now full; this must drop rather than block.
	done := make(chan struct{})
	go func() {
		hub.SendToUser("ph-1", []byte("two"))
		close(done)
	}()
	<-done
}
