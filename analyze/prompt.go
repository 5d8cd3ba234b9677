package analyze

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kawashirov/vrc-localization-checker/llm"
)

// systemPrompt instructs the model to review a Russian translation and reply
// with a JSON object.
var systemPrompt = strings.Join([]string{
	"В следующих сообщениях тебе будет несколько раз представлены JSONы, в которые записаны некоторые фразы.",
	"JSON содержит object, со следующими полями:",
	"\"source_lang\" - string - это языковой код оригинального сообщения,",
	"\"source\" - string - это само оригинальное сообщение на исходном языке,",
	"\"target_lang\" - string - это языковой код целевого перевода оригинального сообщения на другой язык,",
	"\"target\" - string - это сам целевой перевод оригинального сообщения на другой язык,",
	"\"extra\" - object - это другие переводы оригинального сообщения на другие языки.",
	"",
	"Тебе НЕОБХОДИМО проверить, чтобы перевод фразы с \"source\" на \"target\" полностью удовлетворял всем указанным ниже требованиям.",
	"При этом для полноты понимания сути фраз можно опираться на другие переводы в \"extra\".",
	"Переводы в \"extra\" могут быть не точными, на них не следует опираться. \"source\" ВСЕГДА имеет приоритет.",
	"Предложи возможные исправления фразы в \"target\".",
	"",
	"Тематика: VRChat, интерфейс (UI), социальные сети и VR технологии.",
	"",
	"Требования и исключения из них:",
	"",
	"Фраза может быть чем угодно: как единственным словом, так и несколькими сложными предложениями.",
	"",
	"Язык фразы - строго русский, но могут встречаться и слова на английском. Это нормально.",
	"",
	"Предпочтительно в переводе не использовать англицизмы, сленги и прочие заимствования из других языков, если подходящее слово уже есть в русском языке.",
	"Однако, в силу тематики, часто подходящих слов в русском языке нет. В таких случаях заимствования допустимы.",
	"",
	"Основная форма обращения - на 'вы' (не с заглавной буквы), но есть и ряд явно шутливых и игривых фраз, где обращение на 'ты'.",
	"",
	"Во фразе могут быть шаблоны форматирования типа {0}, {{total}}, <color>, &nbsp; и т.п. Это нормально.",
	"НЕ НУЖНО ДУМАТЬ О ФОРМАТИРОВАНИИ И ШАБЛОНАХ, они остаются 'как есть'. НУЖНО думать о тексте, его качестве и содержимом.",
	"",
	"Могут встречаться сокращения 'эл. почта' и слова написанные КАПСОМ. Это тоже нормально.",
	"",
	"Могут использоваться записи вида 'одно/другое/третье' (через '/'). Это нормально.",
	"",
	"Могут встречаться аббревиатуры на русском или английском типа IK, VR или FBT. Это тоже нормально.",
	"",
	"В конце некоторых предложениях может не совпадать наличие точки в конце. Она может либо появиться, либо исчезнуть относительно оригинала. Это нормально.",
	"",
	"В оригинале часто используется Title/Camel Case, но мы предпочитаем в переводе использовать Sentence case, по этому",
	"слова, не являющиеся аббревиатурами, терминами и именами собственными, не должны неожиданно посреди предложения начинаться с заглавной буквы.",
	"",
	"Проверь буквы 'е' на возможность замены на 'ё'. Мы используем правило строгого 'ё',",
	"т.е. 'истёк' - ПРАВИЛЬНО, 'истек' - ОШИБКА, которую НЕОБХОДИМО исправить.",
	"",
	"Обрати внимание на общую грамматику, опечатки, пропущенные буквы, склонения, падежи, структуру предложения и т.п. характерную для Русского языка.",
	"",
	"Также нужно исправлять предложения вида 'Сделать что-то, чтобы ещё что-то' на 'Сделать что-то для чего-то ещё',",
	"т.е. заменять конструкцию 'чтобы' на запись через 'для', ради упрощения структуры предложения,",
	"но ТОЛЬКО если исправленное предложение будет звучать корректно и естественно.",
	"Также не стоит этого делать, если это вызовет повторение 'для' в исправленном предложении. Повторы звучат и читаются не очень хорошо.",
	"",
	"Несколько предложений можно соединять в одно, как и одно предложение разбивать на несколько, но лучше, если ",
	"предложений в результате окажется столько же, сколько и было изначально. По возможности сохраняй их количество.",
	"",
	"Подумай об этих правилах описанных выше. Подумай над КАЖДЫМ словом, словосочетанием, фразой и предложении, на соответствие этим требованиям.",
	"Фраза может НЕ содержать ошибок и соответствовать правилам описанным выше, если это так, то искусственно выдумывать в ней ошибки НЕ нужно.",
	"",
	"Твой ответ ДОЛЖЕН представлять из себя ТОЛЬКО JSON object и ничего больше.",
	"В этом JSON object ОБЯЗАТЕЛЬНО ВСЕГДА должно быть поле \"has_suggestion\" содержащее ТОЛЬКО boolean значение:",
	"true если у тебя ЕСТЬ предложение по улучшению, или false если у тебя НЕТ предложений по улучшению.",
	"Если ты выбираешь \"has_suggestion\": true, то ты ОБЯЗАН добавить поля и \"suggestion\", и \"comment\".",
	"Если ты выбираешь \"has_suggestion\": false, то ты ОБЯЗАН НЕ добавлять поле \"suggestion\", но можешь добавить \"comment\".",
	"Объяснение полей:",
	"\t\"suggestion\" - string - предлагаемый новый исправленный вариант фразы на замену \"target_код\",",
	"\t\"comment\" - string - объяснение, что предлагается исправить и почему.",
	"Ни каких других полей JSON содержать НЕ ДОЛЖЕН, иначе это будет ОШИБКА.",
	"",
	"\"suggestion\" НЕ должен совпадать с \"target_lang\", если они совпадают, значит ты НЕ сделал изменений,",
	"а если ты не сделал изменений, значит \"has_suggestion\" ДОЛЖЕН БЫТЬ false, а значит \"suggestion\" ДОЛЖЕН отсутствовать.",
	"",
	"\"comment\" (если присутствует) должен отвечать на вопрос 'Что сделать?' и ПОДРОБНО объяснять,",
	"что именно ты предлагаешь исправить и как, какие буквы изменятся в каких словах.",
	"",
	"Твой ответ должен быть валидным JSONом. НИКАКИХ дополнительных тегов, кодов, форматирований (типа Markdown) или хитрых мета-синтаксисов,",
	"которых не было в \"target_код\", в твоём ответе НЕ ДОЛЖНО БЫТЬ.",
	"",
	"Осознай требования к твоим ответам выше, покорно и внимательно исполняй их и \"не тупи\".",
}, "\n")

// request is the user message for one pair. Field order is part of the
// prompt.
type request struct {
	SourceLang string            `json:"source_lang"`
	Source     string            `json:"source"`
	TargetLang string            `json:"target_lang"`
	Target     string            `json:"target"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// reply is the answer shape the model is asked for.
type reply struct {
	HasSuggestion bool   `json:"has_suggestion"`
	Suggestion    string `json:"suggestion,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

type example struct {
	source, target string
	answer         reply
}

// examples are replayed before every request as prior turns.
var examples = []example{
	{
		source: "The mirror will snap to specific angles when enabled.",
		target: "Выравнивать зеркла по определенным углам",
		answer: reply{
			HasSuggestion: true,
			Suggestion:    "Выравнивать зеркала по определённым углам",
			Comment:       "Исправить пропущенную букву 'а' в слове 'зеркала' и исправить букву 'ё' в слове 'определённым'.",
		},
	},
	{
		source: "Set Home World",
		target: "Установить как домашний мир",
		answer: reply{HasSuggestion: false},
	},
	{
		source: "Confirmation dialogs are disabled, click to enable",
		target: "Запрос подтверждения выключен, нажмите, чтобы включить его",
		answer: reply{
			HasSuggestion: true,
			Suggestion:    "Запрос подтверждения выключен, нажмите для его включения",
			Comment:       "Изменить структуру предложения со 'чтобы' на 'для'.",
		},
	},
}

// buildMessages returns the system prompt, the examples and the request.
func buildMessages(sourceLang, targetLang string, req request) []llm.Message {
	msgs := make([]llm.Message, 0, 2+2*len(examples))
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	for _, ex := range examples {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: marshal(request{
				SourceLang: sourceLang, Source: ex.source,
				TargetLang: targetLang, Target: ex.target,
			})},
			llm.Message{Role: "assistant", Content: marshal(ex.answer)},
		)
	}
	return append(msgs, llm.Message{Role: "user", Content: marshal(req)})
}

// marshal encodes v as compact JSON without HTML escaping, so markup in
// strings reaches the model unchanged.
func marshal(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		panic(err) // only fixed struct types are encoded
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
