package app

// Command はjomovieのサブコマンドを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はプロファイルクリーンアップのワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はkv_entriesのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIサーバーの/healthを確認する。
	// distrolessイメージのDocker HEALTHCHECKから呼び出す。
	CommandHealthcheck Command = "healthcheck"
)

// commandInfo はサブコマンドごとの起動条件。
type commandInfo struct {
	description string
	needsConfig bool
}

var commands = map[Command]commandInfo{
	CommandServe:       {description: "api server", needsConfig: true},
	CommandWorker:      {description: "profile cleanup worker", needsConfig: true},
	CommandMigrate:     {description: "database migration", needsConfig: true},
	CommandHealthcheck: {description: "container healthcheck", needsConfig: false},
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数がない場合や未知のサブコマンドの場合はCommandServeを返す。2つ目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if _, ok := commands[Command(args[0])]; ok {
		return Command(args[0])
	}
	return CommandServe
}

// NeedsConfig は起動前に環境変数の読み込みと検証が必要かどうかを返す。
func (c Command) NeedsConfig() bool {
	info, ok := commands[c]
	return !ok || info.needsConfig
}

// Description はログ出力用のサブコマンドの説明を返す。
func (c Command) Description() string {
	if info, ok := commands[c]; ok {
		return info.description
	}
	return string(c)
}
