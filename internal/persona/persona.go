// Package persona resolves role names to system prompts.
//
// The role table is closed: unknown names resolve to RoleUnknown, whose
// personality is a neutral person. Prompt construction never fails; a memory
// sample that cannot be loaded is simply left out.
package persona

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"RoleChat/internal/memory"
	"RoleChat/internal/termination"
)

// Role is a known persona.
type Role int

const (
	RoleUnknown Role = iota
	RoleJoker
	RoleHostage
	RoleXiaowanzi
	RoleYan
)

type roleInfo struct {
	name        string
	slug        string
	personality string
}

var roleTable = map[Role]roleInfo{
	RoleJoker: {
		name: "小丑",
		slug: "joker",
		personality: `【人格特征】
你是一个疯狂又难以捉摸的犯罪天才，认为秩序只是假象。
- 情绪起伏很大，时而大笑，时而突然严肃
- 喜欢用反问和哲学式的问题挑衅对方

【语言风格】
- 常说"为什么这么严肃？"
- 说话夹杂笑声"哈哈哈哈"，充满讽刺和黑色幽默`,
	},
	RoleHostage: {
		name: "人质",
		slug: "hostage",
		personality: `【人格特征】
你是一个被绑架的人质，内心恐惧，不敢激怒对方。
- 说话小心翼翼，语气发抖
- 想要逃脱，但不敢表现出来

【语言风格】
- 经常使用"请"、"不好意思"等礼貌用语
- 经常停顿，用"呃……"、"那个……"填充`,
	},
	RoleXiaowanzi: {
		name: "小丸子",
		slug: "xiaowanzi",
		personality: `【人格特征】
你是一个活泼、有点懒散又爱幻想的小学三年级女生。
- 喜欢吃零食、看电视，常常为小事烦恼
- 天真直率，偶尔耍小聪明

【语言风格】
- 语气轻快，常用"哎呀"、"真是的"
- 句子简短，像小孩子一样说话`,
	},
	RoleYan: {
		name: "衍",
		slug: "yan",
		personality: `【人格特征】
你是一个沉静、理性的年轻人，话不多但很真诚。
- 习惯先思考再回答
- 关心对方，但表达克制

【语言风格】
- 用词简洁，很少使用感叹号
- 偶尔用一句反问引导对方思考`,
	},
}

var roleOrder = []Role{RoleJoker, RoleHostage, RoleXiaowanzi, RoleYan}

const unknownPersonality = "你是一个普通的人，没有特殊角色特征。"

// TerminationRule is appended to every system prompt.
var TerminationRule = fmt.Sprintf(`【结束对话规则 - 最高优先级】
当用户表达结束对话的意图时（例如"%[1]s"、"结束"、"不想聊了"），你只能回复"%[1]s"两个字。
- 禁止任何额外内容：标点、表情、祝福语都不允许
- 此规则优先于角色扮演
如果用户没有表达结束意图，就正常扮演角色。`, termination.FarewellToken)

// ParseRole resolves a display name or slug. Unknown names yield RoleUnknown.
func ParseRole(name string) Role {
	name = strings.TrimSpace(name)
	for _, r := range roleOrder {
		info := roleTable[r]
		if name == info.name || strings.EqualFold(name, info.slug) {
			return r
		}
	}
	return RoleUnknown
}

// Roles lists the known roles in display order.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// Name returns the display name, or "" for RoleUnknown.
func (r Role) Name() string { return roleTable[r].name }

// Slug returns the ASCII identifier used for file names and session keys.
func (r Role) Slug() string {
	if info, ok := roleTable[r]; ok {
		return info.slug
	}
	return "default"
}

// Personality returns the base personality text.
func (r Role) Personality() string {
	if info, ok := roleTable[r]; ok {
		return info.personality
	}
	return unknownPersonality
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return r.Name()
}

// Profile is a resolved persona.
type Profile struct {
	Role            Role
	RoleName        string
	BasePersonality string
	MemorySample    string
}

// SystemPrompt joins the sample section, the personality and the termination rule.
func (p Profile) SystemPrompt() string {
	parts := make([]string, 0, 3)
	if p.MemorySample != "" {
		parts = append(parts, "【你的说话风格示例】\n以下是你说过的话，你必须模仿这种说话风格和语气：\n\n"+
			p.MemorySample+
			"\n\n在对话中，你要自然地使用类似的表达方式和语气。")
	}
	parts = append(parts, "【角色设定】\n"+p.BasePersonality)
	parts = append(parts, TerminationRule)
	return strings.Join(parts, "\n\n")
}

// Registry builds profiles, reading memory samples from SampleDir on every call.
type Registry struct {
	SampleDir string
	Logger    *slog.Logger
}

// NewRegistry creates a registry that looks for samples in sampleDir.
func NewRegistry(sampleDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		SampleDir: sampleDir,
		Logger:    logger.With(slog.String("component", "persona")),
	}
}

// SamplePath returns the memory-sample file for r, or "" when r has none.
func (g *Registry) SamplePath(r Role) string {
	if r == RoleUnknown || g.SampleDir == "" {
		return ""
	}
	return filepath.Join(g.SampleDir, r.Slug()+"_memory.json")
}

// Profile resolves name and loads its memory sample if one exists.
func (g *Registry) Profile(name string) Profile {
	r := ParseRole(name)
	p := Profile{
		Role:            r,
		RoleName:        strings.TrimSpace(name),
		BasePersonality: r.Personality(),
	}
	if r != RoleUnknown {
		p.RoleName = r.Name()
	}

	if path := g.SamplePath(r); path != "" {
		sample, err := memory.LoadSample(path)
		if err != nil {
			g.Logger.Debug("memory sample unavailable", "role", p.RoleName, "path", path, "error", err)
		} else {
			p.MemorySample = sample
		}
	}
	return p
}

// PersonaPrompt returns the full system prompt for name.
func (g *Registry) PersonaPrompt(name string) string {
	return g.Profile(name).SystemPrompt()
}
