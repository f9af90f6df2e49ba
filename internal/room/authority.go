package room

// MayMutate: пустой lock пускает всех. Иначе проходит только владелец lock,
// анонимный вызывающий (пустая identity) не проходит никогда.
func MayMutate(lockOwner, identity string) bool {
	if lockOwner == "" {
		return true
	}
	return identity != "" && identity == lockOwner
}

// mayMutate проверяет отправителя по его подтверждённому uid. Вызывать под r.mu.
func (r *Room) mayMutate(connID string) bool {
	var uid string
	if p := r.find(connID); p != nil {
		uid = p.UID
	}
	if MayMutate(r.lock, uid) {
		return true
	}
	r.log.Info("command rejected by room lock", "conn", connID, "uid", uid)
	return false
}
