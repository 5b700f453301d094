package platform

import (
	"fmt"
	"regexp"
	"strings"
)

// LevelSpec 单个权限级别的定义
type LevelSpec struct {
	Level   Level
	Pattern *regexp.Regexp // 该级别的提示符
	// EscalateCommand 在上一级别执行以进入本级别的命令
	EscalateCommand string
	// EscalateAuth 为true时进入本级别需要输入secondary密码
	EscalateAuth bool
	// DeescalateCommand 在本级别执行以退回上一级别的命令
	DeescalateCommand string
}

// Profile 平台的提示符、权限及命令定义
type Profile struct {
	Type Type
	// Levels 按权限从低到高排列
	Levels []LevelSpec
	// DefaultLevel 普通命令执行所在的级别
	DefaultLevel Level
	// FailedWhenContains 设备返回这些内容时认为命令失败
	FailedWhenContains []string
	OnOpen             []string
	OnClose            string
	ReturnChar         string

	LoginPattern    *regexp.Regexp
	PasswordPattern *regexp.Regexp

	base *regexp.Regexp
}

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

	loginPattern    = regexp.MustCompile(`(?im)^.*?(user ?name|login):?\s*$`)
	passwordPattern = regexp.MustCompile(`(?im)^.*?pass(word|code|phrase):?\s*$`)

	iosFailures = []string{
		"% Ambiguous command",
		"% Incomplete command",
		"% Invalid input detected",
		"% Unknown command",
	}
)

var profiles = map[Type]*Profile{
	Generic: newProfile(&Profile{
		Type: Generic,
		Levels: []LevelSpec{
			{Level: Privileged, Pattern: regexp.MustCompile(`(?im)^\S{0,48}[#>$~@:\]]\s*$`)},
		},
		DefaultLevel: Privileged,
	}),
	CiscoIOSXE: newProfile(&Profile{
		Type: CiscoIOSXE,
		Levels: []LevelSpec{
			{
				Level:   Unprivileged,
				Pattern: regexp.MustCompile(`(?im)^[\w.\-@/:]{1,63}>\s?$`),
			},
			{
				Level:             Privileged,
				Pattern:           regexp.MustCompile(`(?im)^[\w.\-@/:]{1,63}#\s?$`),
				EscalateCommand:   "enable",
				EscalateAuth:      true,
				DeescalateCommand: "disable",
			},
			{
				Level:             Configuration,
				Pattern:           regexp.MustCompile(`(?im)^[\w.\-@/:]{1,63}\([\w.\-@/:+]{0,32}\)#\s?$`),
				EscalateCommand:   "configure terminal",
				DeescalateCommand: "end",
			},
		},
		DefaultLevel:       Privileged,
		FailedWhenContains: iosFailures,
		OnOpen:             []string{"terminal length 0", "terminal width 512"},
		OnClose:            "exit",
	}),
	CiscoNXOS: newProfile(&Profile{
		Type: CiscoNXOS,
		Levels: []LevelSpec{
			{
				Level:   Unprivileged,
				Pattern: regexp.MustCompile(`(?im)^[\w.\-]{1,63}>\s?$`),
			},
			{
				Level:             Privileged,
				Pattern:           regexp.MustCompile(`(?im)^[\w.\-]{1,63}(\(maint-mode\))?#\s?$`),
				EscalateCommand:   "enable",
				EscalateAuth:      true,
				DeescalateCommand: "disable",
			},
			{
				Level:             Configuration,
				Pattern:           regexp.MustCompile(`(?im)^[\w.\-]{1,63}\(config[\w.\-@/:+]{0,32}\)#\s?$`),
				EscalateCommand:   "configure terminal",
				DeescalateCommand: "end",
			},
		},
		DefaultLevel:       Privileged,
		FailedWhenContains: append(append([]string{}, iosFailures...), "% Invalid command", "% Invalid parameter detected"),
		OnOpen:             []string{"terminal length 0", "terminal width 511"},
		OnClose:            "exit",
	}),
	JuniperJunos: newProfile(&Profile{
		Type: JuniperJunos,
		Levels: []LevelSpec{
			{
				Level:   Unprivileged,
				Pattern: regexp.MustCompile(`(?im)^[\w\-@()/:.]{1,63}>\s?$`),
			},
			{
				Level:             Configuration,
				Pattern:           regexp.MustCompile(`(?im)^[\w\-@()/:.]{1,63}#\s?$`),
				EscalateCommand:   "configure",
				DeescalateCommand: "exit configuration-mode",
			},
		},
		DefaultLevel: Unprivileged,
		FailedWhenContains: []string{
			"is ambiguous",
			"No valid completions",
			"unknown command",
			"syntax error",
		},
		OnOpen:  []string{"set cli screen-length 0", "set cli screen-width 511"},
		OnClose: "exit",
	}),
	AristaEOS: newProfile(&Profile{
		Type: AristaEOS,
		Levels: []LevelSpec{
			{
				Level:   Unprivileged,
				Pattern: regexp.MustCompile(`(?im)^[\w.\-@/:]{1,63}>\s?$`),
			},
			{
				Level:             Privileged,
				Pattern:           regexp.MustCompile(`(?im)^[\w.\-@/:]{1,63}#\s?$`),
				EscalateCommand:   "enable",
				EscalateAuth:      true,
				DeescalateCommand: "disable",
			},
			{
				Level:             Configuration,
				Pattern:           regexp.MustCompile(`(?im)^[\w.\-@/:]{1,63}\(config[\w.\-@/:+]{0,63}\)#\s?$`),
				EscalateCommand:   "configure terminal",
				DeescalateCommand: "end",
			},
		},
		DefaultLevel: Privileged,
		FailedWhenContains: []string{
			"% Ambiguous command",
			"% Error",
			"% Incomplete command",
			"% Invalid input",
			"% Cannot commit",
			"% Unavailable command",
		},
		OnOpen:  []string{"terminal length 0", "terminal width 32767"},
		OnClose: "exit",
	}),
}

func newProfile(p *Profile) *Profile {
	if p.ReturnChar == "" {
		p.ReturnChar = "\n"
	}
	p.LoginPattern = loginPattern
	p.PasswordPattern = passwordPattern

	parts := make([]string, 0, len(p.Levels))
	for _, l := range p.Levels {
		parts = append(parts, "(?:"+l.Pattern.String()+")")
	}
	p.base = regexp.MustCompile(strings.Join(parts, "|"))
	return p
}

// Lookup 返回平台的Profile，Profile为只读共享对象
func Lookup(t Type) (*Profile, error) {
	p, ok := profiles[t]
	if !ok {
		return nil, fmt.Errorf("no profile for platform type %q", t)
	}
	return p, nil
}

// MustLookup 仅用于平台类型已校验过的场景
func MustLookup(t Type) *Profile {
	p, err := Lookup(t)
	if err != nil {
		panic(err)
	}
	return p
}

// HasLevel 判断平台是否具备指定权限级别
func (p *Profile) HasLevel(l Level) bool {
	_, ok := p.Spec(l)
	return ok
}

// SupportsConfig 平台是否存在配置模式
func (p *Profile) SupportsConfig() bool {
	return p.HasLevel(Configuration)
}

func (p *Profile) Spec(l Level) (LevelSpec, bool) {
	for _, s := range p.Levels {
		if s.Level == l {
			return s, true
		}
	}
	return LevelSpec{}, false
}

// BasePattern 匹配任意级别提示符
func (p *Profile) BasePattern() *regexp.Regexp {
	return p.base
}

// PromptPatterns 按权限从高到低返回各级提示符。
// 配置模式的提示符同样以"#"结尾，必须优先判断
func (p *Profile) PromptPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(p.Levels))
	for i := len(p.Levels) - 1; i >= 0; i-- {
		out = append(out, p.Levels[i].Pattern)
	}
	return out
}

// LevelForPrompt 根据提示符文本识别当前权限级别
func (p *Profile) LevelForPrompt(prompt string) (Level, bool) {
	prompt = strings.TrimSpace(prompt)
	for i := len(p.Levels) - 1; i >= 0; i-- {
		if p.Levels[i].Pattern.MatchString(prompt) {
			return p.Levels[i].Level, true
		}
	}
	return 0, false
}

// MatchesBasePrompt 判断文本是否包含任意级别提示符
func (p *Profile) MatchesBasePrompt(text string) bool {
	return p.base.MatchString(text)
}

// ContainsFailure 返回输出中命中的第一个失败标记
func (p *Profile) ContainsFailure(output string, failedWhenContains []string) (string, bool) {
	if failedWhenContains == nil {
		failedWhenContains = p.FailedWhenContains
	}
	for _, f := range failedWhenContains {
		if f != "" && strings.Contains(output, f) {
			return f, true
		}
	}
	return "", false
}

// Normalize 去除ANSI控制序列并统一换行符
func Normalize(raw []byte) string {
	s := ansiEscape.ReplaceAllString(string(raw), "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// LastPrompt 取输出最后一个非空行作为提示符
func LastPrompt(raw []byte) string {
	lines := strings.Split(Normalize(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// CleanOutput 去掉命令回显，按需去掉末尾提示符
func (p *Profile) CleanOutput(input string, raw []byte, stripPrompt bool) string {
	lines := strings.Split(Normalize(raw), "\n")

	if len(lines) > 0 && input != "" && strings.Contains(lines[0], strings.TrimSpace(input)) {
		lines = lines[1:]
	}

	if stripPrompt {
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		if len(lines) > 0 && p.base.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
			lines = lines[:len(lines)-1]
		}
	}

	return strings.Trim(strings.Join(lines, "\n"), "\n ")
}
