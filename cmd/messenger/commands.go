package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Avanquish/DoughNation-sub002/internal/messenger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

var errUsage = errors.New("usage")

// session is the part of *messenger.Messenger the shell drives.
type session interface {
	OpenConversation(peer models.Peer) error
	CloseConversation() error
	SendText(text string) error
	SendMedia(caption, media, mediaType string) error
	SendDonationCard(peer models.Peer, snapshot models.DonationSnapshot) error
	AcceptDonation(ctx context.Context, donationID models.ID) error
	CancelDonation(donationID, requestID models.ID) error
	DeleteForMe(id models.ID) error
	DeleteForEveryone(id models.ID) error
	Search(target, query string) error
	FocusDonation(donationID models.ID)
	Resync() error
	View() messenger.View
}

type shell struct {
	s   session
	out io.Writer
}

const help = `commands:
  /open <peer-id> [name]          open a conversation
  /close                          close it
  /chats                          list conversations
  /show                           print the open conversation
  /pending                        list donation requests awaiting a decision
  /card <peer-id> <donation-json> request a donation (charity)
  /accept <donation-id>           accept a request (bakery)
  /cancel <donation-id> [req-id]  withdraw a request
  /media <url> <image|video> [caption]
  /delete <message-id>            hide a message locally
  /unsend <message-id>            delete a message for everyone
  /search <bakeries|charities> <query>
  /focus <donation-id>
  /resync
  /quit
anything else is sent as text to the open conversation`

// exec runs one input line. It reports true when the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, sh.s.SendText(line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(sh.out, help)
		return false, nil
	case "/open":
		if len(args) < 1 {
			return false, usage("/open <peer-id> [name]")
		}
		id, err := models.ParseID(args[0])
		if err != nil {
			return false, err
		}
		return false, sh.s.OpenConversation(models.Peer{ID: id, Name: strings.Join(args[1:], " ")})
	case "/close":
		return false, sh.s.CloseConversation()
	case "/chats":
		printChats(sh.out, sh.s.View())
		return false, nil
	case "/show":
		printConversation(sh.out, sh.s.View())
		return false, nil
	case "/pending":
		v := sh.s.View()
		if len(v.PendingCards) == 0 {
			fmt.Fprintln(sh.out, "no pending requests")
		}
		for _, e := range v.PendingCards {
			fmt.Fprintln(sh.out, formatEntry(e, v.Accepted))
		}
		return false, nil
	case "/card":
		idText, doc, _ := strings.Cut(rest, " ")
		if idText == "" || strings.TrimSpace(doc) == "" {
			return false, usage("/card <peer-id> <donation-json>")
		}
		id, err := models.ParseID(idText)
		if err != nil {
			return false, err
		}
		var snapshot models.DonationSnapshot
		if err := json.Unmarshal([]byte(doc), &snapshot); err != nil {
			return false, fmt.Errorf("donation: %w", err)
		}
		return false, sh.s.SendDonationCard(models.Peer{ID: id}, snapshot)
	case "/accept":
		id, err := oneID(args, "/accept <donation-id>")
		if err != nil {
			return false, err
		}
		return false, sh.s.AcceptDonation(ctx, id)
	case "/cancel":
		if len(args) < 1 {
			return false, usage("/cancel <donation-id> [request-id]")
		}
		donationID, err := models.ParseID(args[0])
		if err != nil {
			return false, err
		}
		var requestID models.ID
		if len(args) > 1 {
			if requestID, err = models.ParseID(args[1]); err != nil {
				return false, err
			}
		}
		return false, sh.s.CancelDonation(donationID, requestID)
	case "/media":
		if len(args) < 2 {
			return false, usage("/media <url> <image|video> [caption]")
		}
		return false, sh.s.SendMedia(strings.Join(args[2:], " "), args[0], args[1])
	case "/delete":
		id, err := oneID(args, "/delete <message-id>")
		if err != nil {
			return false, err
		}
		return false, sh.s.DeleteForMe(id)
	case "/unsend":
		id, err := oneID(args, "/unsend <message-id>")
		if err != nil {
			return false, err
		}
		return false, sh.s.DeleteForEveryone(id)
	case "/search":
		if len(args) < 1 {
			return false, usage("/search <bakeries|charities> <query>")
		}
		return false, sh.s.Search(args[0], strings.Join(args[1:], " "))
	case "/focus":
		id, err := oneID(args, "/focus <donation-id>")
		if err != nil {
			return false, err
		}
		sh.s.FocusDonation(id)
		return false, nil
	case "/resync":
		return false, sh.s.Resync()
	}
	return false, fmt.Errorf("unknown command %s, try /help", cmd)
}

func oneID(args []string, form string) (models.ID, error) {
	if len(args) != 1 {
		return 0, usage(form)
	}
	return models.ParseID(args[0])
}

func usage(form string) error {
	return fmt.Errorf("%w: %s", errUsage, form)
}
