package saga

import "errors"

// ErrMalformedEvent はペイロードの解析・検証に失敗したことを示す
// ビジネスエラーとして扱い、再配信による自動リトライは行わない
var ErrMalformedEvent = errors.New("イベントペイロードが不正です")
