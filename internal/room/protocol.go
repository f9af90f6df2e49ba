package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

// Входящие команды
const (
	CmdName             = "CMD:name"
	CmdPicture          = "CMD:picture"
	CmdUID              = "CMD:uid"
	CmdHost             = "CMD:host"
	CmdPlay             = "CMD:play"
	CmdPause            = "CMD:pause"
	CmdSeek             = "CMD:seek"
	CmdTS               = "CMD:ts"
	CmdChat             = "CMD:chat"
	CmdJoinVideo        = "CMD:joinVideo"
	CmdLeaveVideo       = "CMD:leaveVideo"
	CmdJoinScreenShare  = "CMD:joinScreenShare"
	CmdLeaveScreenShare = "CMD:leaveScreenShare"
	CmdStartVBrowser    = "CMD:startVBrowser"
	CmdStopVBrowser     = "CMD:stopVBrowser"
	CmdChangeController = "CMD:changeController"
	CmdSubtitle         = "CMD:subtitle"
	CmdLock             = "CMD:lock"
	CmdAskHost          = "CMD:askHost"
	CmdSignal           = "signal"
	CmdSignalSS         = "signalSS"
	CmdKickUser         = "kickUser"
)

// позиции приходят числом, длинный payload считаем мусором
const maxPositionPayload = 100

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type IdentityPayload struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

type LockPayload struct {
	UID    string `json:"uid"`
	Token  string `json:"token"`
	Locked bool   `json:"locked"`
}

type ScreenSharePayload struct {
	File bool `json:"file"`
}

type StartVBrowserPayload struct {
	UID     string `json:"uid"`
	Token   string `json:"token"`
	RCToken string `json:"rcToken"`
	Options struct {
		Size string `json:"size"`
	} `json:"options"`
}

type SignalPayload struct {
	To     string          `json:"to"`
	Sharer bool            `json:"sharer,omitempty"`
	Msg    json.RawMessage `json:"msg"`
}

type KickPayload struct {
	UserToBeKicked string `json:"userToBeKicked"`
	UID            string `json:"uid"`
	Token          string `json:"token"`
}

// IsAsync: команды, которые ждут внешние сервисы. Транспорт выполняет их
// продолжение вне читающей горутины.
func IsAsync(cmd string) bool {
	switch cmd {
	case CmdUID, CmdLock, CmdSubtitle, CmdStartVBrowser, CmdStopVBrowser, CmdKickUser:
		return true
	}
	return false
}

var ErrUnknownCommand = errors.New("unknown command")

// Dispatch декодирует payload и вызывает нужную операцию.
// Паника в обработчике не роняет комнату.
func (r *Room) Dispatch(ctx context.Context, connID, cmd string, payload json.RawMessage) error {
	return r.run(cmd, connID, func() error {
		return r.dispatch(ctx, connID, cmd, payload)
	})
}

// Begin выполняет быструю часть команды на горутине читателя, так что следующая
// команда подключения уже видит её переход состояния. Для команд из IsAsync
// возвращает продолжение, его можно запускать отдельно. Для остальных next == nil.
func (r *Room) Begin(ctx context.Context, connID, cmd string, payload json.RawMessage) (next func(context.Context) error, err error) {
	switch {
	case cmd == CmdStartVBrowser:
		var req StartRequest
		var attempt uint64
		err = r.run(cmd, connID, func() error {
			var err error
			if req, err = decodeStart(payload); err != nil {
				return err
			}
			attempt, err = r.beginStart(connID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return r.run(cmd, connID, func() error {
				return r.completeStart(ctx, connID, attempt, req)
			})
		}, nil
	case cmd == CmdStopVBrowser:
		var ended *domain.Assignment
		err = r.run(cmd, connID, func() error {
			var err error
			ended, err = r.beginStop(connID)
			return err
		})
		if err != nil || ended == nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return r.run(cmd, connID, func() error {
				r.finishSession(ctx, ended)
				return nil
			})
		}, nil
	case IsAsync(cmd):
		return func(ctx context.Context) error {
			return r.Dispatch(ctx, connID, cmd, payload)
		}, nil
	default:
		return nil, r.Dispatch(ctx, connID, cmd, payload)
	}
}

func (r *Room) run(cmd, connID string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("room command panic",
				"cmd", cmd,
				"conn", connID,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("command %s panicked: %v", cmd, rec)
		}
	}()

	err = fn()
	if err != nil {
		r.log.Debug("room command dropped", "cmd", cmd, "conn", connID, "err", err)
	}
	return err
}

func (r *Room) dispatch(ctx context.Context, connID, cmd string, payload json.RawMessage) error {
	switch cmd {
	case CmdName:
		var s string
		if err := decode(payload, &s); err != nil {
			return err
		}
		return r.SetName(connID, s)
	case CmdPicture:
		var s string
		if err := decode(payload, &s); err != nil {
			return err
		}
		return r.SetPicture(connID, s)
	case CmdUID:
		var p IdentityPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return r.BindIdentity(ctx, connID, p.UID, p.Token)
	case CmdHost:
		var s string
		if err := decode(payload, &s); err != nil {
			return err
		}
		return r.Host(connID, s)
	case CmdPlay:
		return r.Play(connID)
	case CmdPause:
		return r.Pause(connID)
	case CmdSeek, CmdTS:
		if len(payload) > maxPositionPayload {
			return domain.ErrTooLarge
		}
		var ts float64
		if err := decode(payload, &ts); err != nil {
			return err
		}
		if cmd == CmdSeek {
			return r.Seek(connID, ts)
		}
		return r.ReportPosition(connID, ts)
	case CmdChat:
		var s string
		if err := decode(payload, &s); err != nil {
			return err
		}
		return r.Chat(connID, s)
	case CmdJoinVideo:
		return r.JoinVideo(connID)
	case CmdLeaveVideo:
		return r.LeaveVideo(connID)
	case CmdJoinScreenShare:
		var p ScreenSharePayload
		if len(payload) > 0 {
			if err := decode(payload, &p); err != nil {
				return err
			}
		}
		return r.JoinScreenShare(connID, p.File)
	case CmdLeaveScreenShare:
		return r.LeaveScreenShare(connID)
	case CmdStartVBrowser:
		req, err := decodeStart(payload)
		if err != nil {
			return err
		}
		return r.StartResource(ctx, connID, req)
	case CmdStopVBrowser:
		return r.StopResource(ctx, connID)
	case CmdChangeController:
		var s string
		if err := decode(payload, &s); err != nil {
			return err
		}
		return r.ChangeController(connID, s)
	case CmdSubtitle:
		var s string
		if err := decode(payload, &s); err != nil {
			return err
		}
		return r.UploadSubtitle(ctx, connID, s)
	case CmdLock:
		var p LockPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return r.SetLock(ctx, connID, p.UID, p.Token, p.Locked)
	case CmdAskHost:
		return r.AskHost(connID)
	case CmdSignal, CmdSignalSS:
		var p SignalPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if cmd == CmdSignal {
			return r.Relay(connID, p.To, p.Msg)
		}
		return r.RelayScreenShare(connID, p.To, p.Sharer, p.Msg)
	case CmdKickUser:
		var p KickPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return r.Kick(ctx, connID, p.UserToBeKicked, p.UID, p.Token)
	default:
		return ErrUnknownCommand
	}
}

// decode: пустой или null payload — это ошибка, команды без данных его не читают.
func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return domain.ErrInvalidInput
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func decodeStart(payload json.RawMessage) (StartRequest, error) {
	var p StartVBrowserPayload
	if err := decode(payload, &p); err != nil {
		return StartRequest{}, err
	}
	return StartRequest{
		UID:        p.UID,
		Token:      p.Token,
		ProofToken: p.RCToken,
		Size:       p.Options.Size,
	}, nil
}
