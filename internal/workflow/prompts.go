package workflow

import (
	"fmt"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/llm"
	"strings"
)

// promptKit 是某种语言下各阶段的提示词模板。
type promptKit struct {
	guidance    string // %s: 提示词类型, %s: 决策短语
	typeName    map[model.PromptType]string
	report      string // %s: 提示词类型
	reportAsk   string
	thinking    string // %s: 提示词类型
	initial     string // %s: 提示词类型
	advice      string // %s: 提示词类型
	final       string // %s: 提示词类型
	translate   string // %s: 目标语言
	langName    map[model.Language]string
	reportLbl   string
	thinkingLbl string
	initialLbl  string
	adviceLbl   string
	progress    string // %s: 阶段名
}

var kits = map[model.Language]promptKit{
	model.LanguageZH: {
		guidance: "你是一名资深的提示词工程师，正在帮助用户设计一份%s。\n" +
			"通过提问了解用户的目标、使用场景、目标受众、输出格式与约束条件，每次只问一到两个最关键的问题。\n" +
			"当你认为信息已经足够时，请先原样输出这句话：\"%s\"，然后简要总结已收集到的需求，不要自行撰写提示词。",
		typeName: map[model.PromptType]string{
			model.PromptTypeSystem: "系统提示词（System Prompt）",
			model.PromptTypeUser:   "用户提示词（User Prompt）",
		},
		report: "你是一名需求分析师。根据用户与助手的对话，整理一份用于编写%s的需求报告。\n" +
			"报告需包含：目标、使用场景、目标受众、输入与输出、约束条件、风格要求。使用 markdown，直接输出报告正文。",
		reportAsk:   "请根据以上对话生成需求报告。",
		thinking:    "你是一名提示词专家。阅读需求报告，列出编写%s时需要重点考虑的思考要点。\n每行一条，以 \"- \" 开头，不要编号，不要输出其他内容。",
		initial:     "你是一名提示词工程师。根据需求报告与思考要点，编写一份完整的%s。\n直接输出提示词正文，使用 markdown 组织结构，不要添加任何解释。",
		advice:      "你是一名提示词评审专家。审阅下面这份%s初稿，结合需求报告提出具体的优化建议。\n每行一条，以 \"- \" 开头，不要编号，不要输出其他内容。",
		final:       "你是一名提示词工程师。根据需求报告与优化建议改写%s初稿，输出最终版本。\n直接输出提示词正文，使用 markdown 组织结构，不要添加任何解释。",
		translate:   "你是一名专业译者。把用户给出的提示词完整翻译为%s，保持 markdown 结构与占位符不变，只输出译文。",
		langName:    map[model.Language]string{model.LanguageZH: "中文", model.LanguageEN: "英文"},
		reportLbl:   "需求报告",
		thinkingLbl: "思考要点",
		initialLbl:  "提示词初稿",
		adviceLbl:   "优化建议",
		progress:    "正在生成%s…",
	},
	model.LanguageEN: {
		guidance: "You are a senior prompt engineer helping the user design a %s.\n" +
			"Ask about the goal, usage scenario, audience, output format and constraints, one or two key questions at a time.\n" +
			"When you have enough information, first output this sentence verbatim: \"%s\" and then briefly summarize the collected requirements. Do not write the prompt yourself.",
		typeName: map[model.PromptType]string{
			model.PromptTypeSystem: "system prompt",
			model.PromptTypeUser:   "user prompt",
		},
		report: "You are a requirements analyst. From the conversation between the user and the assistant, write a requirement report for a %s.\n" +
			"Cover goal, usage scenario, audience, inputs and outputs, constraints and style. Use markdown and output only the report.",
		reportAsk:   "Generate the requirement report from the conversation above.",
		thinking:    "You are a prompt expert. Read the requirement report and list the key points to consider when writing the %s.\nOne point per line starting with \"- \", no numbering, nothing else.",
		initial:     "You are a prompt engineer. Using the requirement report and the key points, write a complete %s.\nOutput only the prompt, structured with markdown, without any explanation.",
		advice:      "You are a prompt reviewer. Review the draft %s below against the requirement report and give concrete suggestions.\nOne suggestion per line starting with \"- \", no numbering, nothing else.",
		final:       "You are a prompt engineer. Rewrite the draft %s following the requirement report and the suggestions, and output the final version.\nOutput only the prompt, structured with markdown, without any explanation.",
		translate:   "You are a professional translator. Translate the prompt given by the user into %s, keeping the markdown structure and placeholders intact. Output only the translation.",
		langName:    map[model.Language]string{model.LanguageZH: "Chinese", model.LanguageEN: "English"},
		reportLbl:   "Requirement report",
		thinkingLbl: "Key points",
		initialLbl:  "Draft prompt",
		adviceLbl:   "Suggestions",
		progress:    "Generating %s…",
	},
}

func kitFor(lang model.Language) promptKit {
	if k, ok := kits[lang]; ok {
		return k
	}
	return kits[model.LanguageZH]
}

func section(title, body string) string {
	return fmt.Sprintf("## %s\n%s", title, body)
}

func bullets(items []string) string {
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(it)
	}
	return sb.String()
}

// historyMessages 把有效发言转换为模型消息，附件原样转发。
func historyMessages(turns []model.ConversationTurn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: string(t.Role), Content: t.Content, Attachments: t.Attachments})
	}
	return out
}

// guidanceMessages 构建引导对话的消息：系统提示词 + 有效历史。
func guidanceMessages(lang model.Language, pt model.PromptType, decisionPhrase string, turns []model.ConversationTurn) []llm.Message {
	k := kitFor(lang)
	msgs := []llm.Message{{Role: "system", Content: fmt.Sprintf(k.guidance, k.typeName[pt], decisionPhrase)}}
	return append(msgs, historyMessages(turns)...)
}

// stageInput 汇总阶段所需的全部上游产物。
type stageInput struct {
	lang       model.Language
	promptType model.PromptType
	turns      []model.ConversationTurn
	artifacts  model.PipelineArtifacts
}

// validate 检查阶段的前置条件：需求报告依赖对话，其余阶段依赖上一阶段的非空产物。
func (in stageInput) validate(stage model.Stage) error {
	if stage == model.StageReport {
		for _, t := range in.turns {
			if t.Role == model.RoleUser {
				return nil
			}
		}
		return validationf(stage, "还没有对话内容，无法生成需求报告")
	}
	prev := stage.Prev()
	if !in.artifacts.Has(prev) {
		return validationf(stage, "请先生成%s，再生成%s", prev.Label(), stage.Label())
	}
	return nil
}

// messages 构建阶段调用的消息。
func (in stageInput) messages(stage model.Stage) []llm.Message {
	k := kitFor(in.lang)
	typeName := k.typeName[in.promptType]
	a := in.artifacts
	report := section(k.reportLbl, a.RequirementReport)

	switch stage {
	case model.StageReport:
		msgs := []llm.Message{{Role: "system", Content: fmt.Sprintf(k.report, typeName)}}
		msgs = append(msgs, historyMessages(in.turns)...)
		return append(msgs, llm.Message{Role: "user", Content: k.reportAsk})
	case model.StageThinking:
		return []llm.Message{
			{Role: "system", Content: fmt.Sprintf(k.thinking, typeName)},
			{Role: "user", Content: report},
		}
	case model.StageInitial:
		return []llm.Message{
			{Role: "system", Content: fmt.Sprintf(k.initial, typeName)},
			{Role: "user", Content: report + "\n\n" + section(k.thinkingLbl, bullets(a.ThinkingPoints))},
		}
	case model.StageAdvice:
		return []llm.Message{
			{Role: "system", Content: fmt.Sprintf(k.advice, typeName)},
			{Role: "user", Content: report + "\n\n" + section(k.initialLbl, a.InitialPrompt)},
		}
	case model.StageFinal:
		return []llm.Message{
			{Role: "system", Content: fmt.Sprintf(k.final, typeName)},
			{Role: "user", Content: report + "\n\n" + section(k.initialLbl, a.InitialPrompt) + "\n\n" + section(k.adviceLbl, bullets(a.Advice))},
		}
	}
	return nil
}

// translateMessages 构建把最终提示词翻译为 target 语言的消息。
func translateMessages(ui model.Language, target model.Language, text string) []llm.Message {
	k := kitFor(ui)
	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(k.translate, k.langName[target])},
		{Role: "user", Content: text},
	}
}

func progressText(lang model.Language, stage model.Stage) string {
	k := kitFor(lang)
	name := stage.Label()
	if lang == model.LanguageEN {
		name = strings.ToLower(string(stage))
	}
	return fmt.Sprintf(k.progress, name)
}
