package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

// recipient addresses a chat by numeric id or @username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(recipient(to.ChatID), chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, mapError("sendMessage", to.ChatID, err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if doc.Reader == nil {
		return kit.MessageRef{}, fmt.Errorf("document %q has no content", doc.Name)
	}
	sendOpt := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		sendOpt.ParseMode = opt.ParseMode
	}
	msg, err := a.bot.Send(recipient(to.ChatID), &tele.Document{
		File:     tele.FromReader(doc.Reader),
		FileName: doc.Name,
		MIME:     doc.MIME,
		Caption:  doc.Caption,
	}, sendOpt)
	if err != nil {
		return kit.MessageRef{}, mapError("sendDocument", to.ChatID, err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// DeleteMessage needs a numeric chat id; @username refs cannot be deleted.
func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("delete message: chat %q is not numeric", ref.ChatID)
	}
	err = a.bot.Delete(&tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: chatID})
	if err != nil {
		return mapError("deleteMessage", ref.ChatID, err)
	}
	return nil
}

// UpdateMenuCommands sets the bot's command menu. The call is skipped when
// the list did not change since the last success.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Command), "/")
		if name == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		_, _ = h.Write([]byte(name + "\x00" + desc + "\x00"))
		out = append(out, tele.Command{Text: name, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return mapError("setMyCommands", "", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)
