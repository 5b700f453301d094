package platform

import (
	"fmt"
	"strings"
)

// Type 设备平台类型，取值沿用scrapli的平台命名
type Type string

const (
	Generic      Type = "generic"
	CiscoIOSXE   Type = "cisco_iosxe"
	CiscoNXOS    Type = "cisco_nxos"
	JuniperJunos Type = "juniper_junos"
	AristaEOS    Type = "arista_eos"
)

var aliases = map[string]Type{
	"generic":       Generic,
	"linux":         Generic,
	"ios":           CiscoIOSXE,
	"iosxe":         CiscoIOSXE,
	"cisco_ios":     CiscoIOSXE,
	"cisco_iosxe":   CiscoIOSXE,
	"nxos":          CiscoNXOS,
	"cisco_nxos":    CiscoNXOS,
	"junos":         JuniperJunos,
	"juniper_junos": JuniperJunos,
	"eos":           AristaEOS,
	"arista_eos":    AristaEOS,
}

// Parse 将配置中的平台名称（含常见别名）转换为Type
func Parse(name string) (Type, error) {
	if t, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown platform type: %q", name)
}

// Types 返回所有支持的平台
func Types() []Type {
	return []Type{Generic, CiscoIOSXE, CiscoNXOS, JuniperJunos, AristaEOS}
}

func (t Type) String() string {
	return string(t)
}

// Level 权限级别，数值越大权限越高
type Level int

const (
	Unprivileged  Level = iota // 用户模式(如Cisco的">")
	Privileged                 // 特权模式(如Cisco的"#")
	Configuration              // 配置模式(如Cisco的"(config)#")
)

func (l Level) String() string {
	switch l {
	case Unprivileged:
		return "exec"
	case Privileged:
		return "privilege_exec"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// ParseLevel 支持按名称指定目标权限级别
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "exec", "unprivileged":
		return Unprivileged, nil
	case "privilege_exec", "privileged":
		return Privileged, nil
	case "configuration", "config":
		return Configuration, nil
	}
	return 0, fmt.Errorf("unknown privilege level: %q", name)
}
