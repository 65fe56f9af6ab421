package auth

import (
	"context"
	"errors"
)

var (
	// ErrGateRejected 经济系统拒绝本次部署（余额不足等）
	ErrGateRejected = errors.New("deployment not approved")
	// ErrNotOwner 调用方不拥有该 bot
	ErrNotOwner = errors.New("caller does not own this bot")
)

// Gate 部署审批（外部经济系统）
type Gate interface {
	ApproveDeploy(ctx context.Context, caller, botID string) error
}

// Ownership bot 归属校验（外部用户系统）
type Ownership interface {
	Owns(ctx context.Context, caller, botID string) (bool, error)
}

// AllowAll 默认实现：全部放行
type AllowAll struct{}

func (AllowAll) ApproveDeploy(context.Context, string, string) error { return nil }

func (AllowAll) Owns(context.Context, string, string) (bool, error) { return true, nil }

// GateFunc 函数适配器
type GateFunc func(ctx context.Context, caller, botID string) error

func (f GateFunc) ApproveDeploy(ctx context.Context, caller, botID string) error {
	return f(ctx, caller, botID)
}

// OwnershipFunc 函数适配器
type OwnershipFunc func(ctx context.Context, caller, botID string) (bool, error)

func (f OwnershipFunc) Owns(ctx context.Context, caller, botID string) (bool, error) {
	return f(ctx, caller, botID)
}

// CheckOwner 校验归属，不拥有时返回 ErrNotOwner
func CheckOwner(ctx context.Context, o Ownership, caller, botID string) error {
	ok, err := o.Owns(ctx, caller, botID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOwner
	}
	return nil
}
