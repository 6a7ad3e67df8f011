package transaction

// Scope はトランザクションにコミット後フックを紐付ける
// イベント発行などの副作用をコミット成功後まで遅延させるために使う
// フックはCommitが成功した場合のみ登録順に実行される
type Scope struct {
	tx          Tx
	afterCommit []func()
	done        bool
}

// NewScope はTxをラップした新しいScopeを作成する
func NewScope(tx Tx) *Scope {
	return &Scope{tx: tx}
}

// AfterCommit はコミット成功後に実行するフックを登録する
func (s *Scope) AfterCommit(fn func()) {
	s.afterCommit = append(s.afterCommit, fn)
}

// Tx はラップしているトランザクションを返す
func (s *Scope) Tx() Tx {
	return s.tx
}

// Commit はトランザクションをコミットし、成功時のみフックを実行する
func (s *Scope) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return err
	}
	s.done = true
	for _, fn := range s.afterCommit {
		fn()
	}
	return nil
}

// Rollback はトランザクションをロールバックする（フックは実行されない）
// Commit済み・Rollback済みの場合は何もしない（defer Rollbackパターン用）
func (s *Scope) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}
