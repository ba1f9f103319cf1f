package ai

const ExtractionSystemPrompt = `You are an information extraction system that builds a knowledge graph from text.
You only report facts that are stated in the provided text. You never invent entities, types or relations.
You always answer with a single JSON object that matches the requested schema.`

const MentionPrompt = `
# Task Context
You are identifying mentions of named things in a passage of text. A later step assigns ontology classes to the mentions.

# Background Data
The ontology describes the following kinds of things:
%s

# Detailed Task Description & Rules
- Report every mention of a concrete entity that could belong to one of the kinds above.
- Copy the mention text exactly as it appears in the passage, including capitalisation and punctuation inside the name.
- Do not include surrounding articles or trailing sentence punctuation (write "Acme Corp", not "Acme Corp.").
- List each distinct surface form once.
- Skip pronouns and generic nouns ("he", "the company").

# Passage
<passage>
%s
</passage>

# Immediate Task Description or Request
Return a JSON object with the list of mentions found in the passage.
`

const TypingPrompt = `
# Task Context
You are assigning ontology classes to entity mentions found in a passage of text.

# Background Data
Available classes (identifier: label - description):
%s

# Detailed Task Description & Rules
- For each mention choose one or more class identifiers from the list above that the passage supports.
- Use only identifiers from the list. Prefer the most specific class.
- If no class fits a mention, return an empty class list for it.
- Keep the mention text unchanged.

# Passage
<passage>
%s
</passage>

# Mentions
%s

# Immediate Task Description or Request
Return a JSON object with one entry per mention and its class identifiers.
`

const RelationPrompt = `
# Task Context
You are extracting relations between entities from a passage of text. Relations must use the allowed properties only.

# Background Data
Entities and the properties allowed for each of them as subject:
%s

# Detailed Task Description & Rules
- A relation has a subject entity, a property identifier and an object.
- The object is either another entity from the list (set "object_entity") or a literal value (set "object_literal").
- Only use a property listed for the subject entity.
- "evidence" must be copied verbatim from the passage and must contain the statement that supports the relation, usually the full sentence.
- "confidence" is your confidence between 0 and 1 that the passage states the relation.
- Do not report relations the passage does not state.

# Passage
<passage>
%s
</passage>

# Immediate Task Description or Request
Return a JSON object with the list of relations found in the passage.
`
