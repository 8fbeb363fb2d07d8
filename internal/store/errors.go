package store

import "errors"

var (
	ErrBusy                  = errors.New("store: locker is busy")
	ErrVipBlocked            = errors.New("store: locker is reserved for a VIP contract")
	ErrOwnerAlreadyHasLocker = errors.New("store: owner already holds a locker")
	ErrNotOwner              = errors.New("store: caller does not own this locker")
	ErrVipProtected          = errors.New("store: VIP ownership can only be dissolved by contract lifecycle")
	ErrNotFound              = errors.New("store: locker not found")
	ErrInvalidTransition     = errors.New("store: invalid locker state transition")
	ErrVersionConflict       = errors.New("store: optimistic concurrency conflict")
)
