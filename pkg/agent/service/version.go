package service

// Version 构建时通过 -ldflags "-X" 注入
var Version = "dev"

// GetVersion 当前版本
func GetVersion() string {
	return Version
}
