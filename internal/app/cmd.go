package app

// Command はpitstopのサブコマンドを表す。
type Command string

const (
	// CommandServe は会話ランタイム向けのAPIサーバーと会話の掃除を起動する。
	CommandServe Command = "serve"
	// CommandWorker は会話ログのクリーンアップワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はcars / sessions / conversation_history などのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIサーバーの /health を確認する。
	// distrolessイメージのHEALTHCHECKから呼ばれるため、設定やDBを読み込まない。
	CommandHealthcheck Command = "healthcheck"
)

// commands は受け付けるサブコマンドの一覧。
var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数がない場合と未知のサブコマンドはserveとして扱い、2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// NeedsConfig はサブコマンドが環境変数の設定とDB接続を必要とするかを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck
}
