package workflow

// 以下方法把发言编辑操作转发给会话状态，并通知观察者。引用不存在的 id 时什么也不做。

// BeginEdit 进入编辑状态。
func (s *Session) BeginEdit(turnID string) {
	s.conv.BeginEdit(turnID)
	s.turnsChanged()
}

// SaveEdit 保存编辑内容。
func (s *Session) SaveEdit(turnID, content string) {
	s.conv.SaveEdit(turnID, content)
	s.turnsChanged()
}

// CancelEdit 放弃编辑并恢复原内容。
func (s *Session) CancelEdit(turnID string) {
	s.conv.CancelEdit(turnID)
	s.turnsChanged()
}

// DeleteTurn 软删除一条发言。
func (s *Session) DeleteTurn(turnID string) {
	s.conv.SoftDelete(turnID)
	s.turnsChanged()
}

// RestoreTurn 撤销软删除。
func (s *Session) RestoreTurn(turnID string) {
	s.conv.Undelete(turnID)
	s.turnsChanged()
}

func (s *Session) turnsChanged() {
	s.opts.Observer.TurnsChanged(s.id, s.conv.Turns())
	s.persist()
}
